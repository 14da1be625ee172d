package viewas

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signage-control-backend/internal/auth"
)

func sampleSession() *Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &Session{
		Token:            "tok-1",
		StaffAccountID:   "admin",
		StaffEmail:       "admin@ods.test",
		Mode:             ModeCustomer,
		OrganizationID:   "org-1",
		OrganizationName: "Acme",
		OriginalRole:     auth.RoleODSAdmin,
		StartedAt:        now,
		ExpiresAt:        now.Add(time.Hour),
	}
}

func exerciseStore(t *testing.T, st SessionStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := st.Get(ctx, "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	in := sampleSession()
	require.NoError(t, st.Put(ctx, in, time.Hour))

	got, ok, err := st.Get(ctx, "admin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in.Token, got.Token)
	assert.Equal(t, in.OrganizationID, got.OrganizationID)
	assert.Equal(t, in.OriginalRole, got.OriginalRole)
	assert.True(t, in.ExpiresAt.Equal(got.ExpiresAt))

	removed, ok, err := st.Delete(ctx, "admin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-1", removed.Token)

	_, ok, err = st.Get(ctx, "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = st.Delete(ctx, "admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st := NewRedisStore(client, "test:viewas:")
	exerciseStore(t, st)

	t.Run("ttl", func(t *testing.T) {
		require.NoError(t, st.Put(context.Background(), sampleSession(), time.Minute))
		assert.Equal(t, time.Minute, mr.TTL("test:viewas:admin"))

		mr.FastForward(2 * time.Minute)
		_, ok, err := st.Get(context.Background(), "admin")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
