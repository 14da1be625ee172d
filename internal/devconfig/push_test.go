package devconfig

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signage-control-backend/internal/model"
	"signage-control-backend/internal/registry"
)

type recordingTransport struct {
	mu     sync.Mutex
	events []string
	last   any
}

func (r *recordingTransport) Send(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.last = payload
	return nil
}

func (r *recordingTransport) Close() error { return nil }

func TestPusher(t *testing.T) {
	reg := registry.New()
	p := NewPusher(newBuilder(&stubStore{}), reg)
	player := &model.Player{ID: "p1", DeviceUUID: "dev-1", Name: "Lobby"}

	sent, err := p.Push(context.Background(), player)
	require.NoError(t, err)
	assert.False(t, sent, "offline player gets nothing")

	tr := &recordingTransport{}
	reg.Register("dev-1", tr)
	sent, err = p.Push(context.Background(), player)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, []string{EventConfig}, tr.events)
	payload, ok := tr.last.(*Payload)
	require.True(t, ok)
	assert.Equal(t, "Lobby", *payload.PlayerName)
}
