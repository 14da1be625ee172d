package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	name   string
	closed atomic.Int32
}

func (f *fakeTransport) Send(string, any) error { return nil }
func (f *fakeTransport) Close() error {
	f.closed.Add(1)
	return nil
}

func TestRegistry_ReplaceClosesPrevious(t *testing.T) {
	r := New()
	t1 := &fakeTransport{name: "t1"}
	t2 := &fakeTransport{name: "t2"}

	r.Register("dev-1", t1)
	r.Register("dev-1", t2)

	got, ok := r.Lookup("dev-1")
	require.True(t, ok)
	assert.Same(t, t2, got)
	assert.EqualValues(t, 1, t1.closed.Load())
	assert.EqualValues(t, 0, t2.closed.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_SwapLeavesCloseToCaller(t *testing.T) {
	r := New()
	t1 := &fakeTransport{name: "t1"}
	t2 := &fakeTransport{name: "t2"}

	assert.Nil(t, r.Swap("dev-1", t1))
	assert.Nil(t, r.Swap("dev-1", t1))

	old := r.Swap("dev-1", t2)
	assert.Same(t, t1, old)
	assert.EqualValues(t, 0, t1.closed.Load())

	got, ok := r.Lookup("dev-1")
	require.True(t, ok)
	assert.Same(t, t2, got)
}

func TestRegistry_StaleUnregisterIsNoop(t *testing.T) {
	r := New()
	t1 := &fakeTransport{name: "t1"}
	t2 := &fakeTransport{name: "t2"}

	r.Register("dev-1", t1)
	r.Register("dev-1", t2)

	assert.False(t, r.Unregister("dev-1", t1))
	got, ok := r.Lookup("dev-1")
	require.True(t, ok)
	assert.Same(t, t2, got)

	assert.True(t, r.Unregister("dev-1", t2))
	_, ok = r.Lookup("dev-1")
	assert.False(t, ok)
	assert.False(t, r.Unregister("dev-1", t2))
}

func TestRegistry_ReRegisterSameTransport(t *testing.T) {
	r := New()
	t1 := &fakeTransport{}
	r.Register("dev-1", t1)
	r.Register("dev-1", t1)
	assert.EqualValues(t, 0, t1.closed.Load())
	_, ok := r.ConnectedAt("dev-1")
	assert.True(t, ok)
}

func TestRegistry_ConcurrentRegisterLeavesOneEntry(t *testing.T) {
	r := New()
	transports := make([]*fakeTransport, 50)
	for i := range transports {
		transports[i] = &fakeTransport{name: fmt.Sprint(i)}
	}

	var wg sync.WaitGroup
	for _, tr := range transports {
		wg.Add(1)
		go func(tr *fakeTransport) {
			defer wg.Done()
			r.Register("dev-1", tr)
		}(tr)
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
	cur, ok := r.Lookup("dev-1")
	require.True(t, ok)

	var closed int
	for _, tr := range transports {
		if tr == cur {
			assert.EqualValues(t, 0, tr.closed.Load())
			continue
		}
		closed += int(tr.closed.Load())
	}
	assert.Equal(t, len(transports)-1, closed)
}

func TestRegistry_Connected(t *testing.T) {
	r := New()
	r.Register("b", &fakeTransport{})
	r.Register("a", &fakeTransport{})
	assert.Equal(t, []string{"a", "b"}, r.Connected())
}
