package viewas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
)

// SessionStore holds at most one session per staff account.
type SessionStore interface {
	Put(ctx context.Context, s *Session, ttl time.Duration) error
	Get(ctx context.Context, staffAccountID string) (*Session, bool, error)
	// Delete removes and returns the session, if there was one.
	Delete(ctx context.Context, staffAccountID string) (*Session, bool, error)
}

// MemoryStore keeps sessions in process memory. Use it for single-instance
// deployments.
type MemoryStore struct {
	c *cache.Cache
}

// NewMemoryStore creates an in-process session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, time.Minute)}
}

// Put implements SessionStore.
func (m *MemoryStore) Put(_ context.Context, s *Session, ttl time.Duration) error {
	cp := *s
	m.c.Set(s.StaffAccountID, &cp, ttl)
	return nil
}

// Get implements SessionStore.
func (m *MemoryStore) Get(_ context.Context, staffAccountID string) (*Session, bool, error) {
	v, ok := m.c.Get(staffAccountID)
	if !ok {
		return nil, false, nil
	}
	cp := *v.(*Session)
	return &cp, true, nil
}

// Delete implements SessionStore.
func (m *MemoryStore) Delete(_ context.Context, staffAccountID string) (*Session, bool, error) {
	v, ok := m.c.Get(staffAccountID)
	m.c.Delete(staffAccountID)
	if !ok {
		return nil, false, nil
	}
	return v.(*Session), true, nil
}

// RedisStore shares sessions between control plane instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (r *RedisStore) key(staffAccountID string) string {
	return r.prefix + staffAccountID
}

type redisSession struct {
	Session
	Token string `json:"token"`
}

// Put implements SessionStore.
func (r *RedisStore) Put(ctx context.Context, s *Session, ttl time.Duration) error {
	data, err := json.Marshal(redisSession{Session: *s, Token: s.Token})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return r.client.Set(ctx, r.key(s.StaffAccountID), data, ttl).Err()
}

// Get implements SessionStore.
func (r *RedisStore) Get(ctx context.Context, staffAccountID string) (*Session, bool, error) {
	data, err := r.client.Get(ctx, r.key(staffAccountID)).Bytes()
	return decode(data, err)
}

// Delete implements SessionStore.
func (r *RedisStore) Delete(ctx context.Context, staffAccountID string) (*Session, bool, error) {
	data, err := r.client.GetDel(ctx, r.key(staffAccountID)).Bytes()
	return decode(data, err)
}

func decode(data []byte, err error) (*Session, bool, error) {
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rs redisSession
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, false, fmt.Errorf("failed to decode session: %w", err)
	}
	s := rs.Session
	s.Token = rs.Token
	return &s, true, nil
}
