// Package registry tracks the single live transport of every connected device.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Transport is a bidirectional channel to one device.
type Transport interface {
	Send(event string, payload any) error
	Close() error
}

type entry struct {
	transport   Transport
	connectedAt time.Time
}

// Registry maps device_uuid to its current transport. The zero value is not
// usable; use New.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Register makes t the device's transport. A previous transport for the
// same device is closed after the swap, outside the lock.
func (r *Registry) Register(deviceUUID string, t Transport) {
	if old := r.Swap(deviceUUID, t); old != nil {
		_ = old.Close()
	}
}

// Swap makes t the device's transport and returns the one it replaced, or
// nil. Closing the replaced transport is left to the caller.
func (r *Registry) Swap(deviceUUID string, t Transport) Transport {
	r.mu.Lock()
	old, existed := r.entries[deviceUUID]
	r.entries[deviceUUID] = entry{transport: t, connectedAt: r.now()}
	r.mu.Unlock()

	if !existed || old.transport == t {
		return nil
	}
	return old.transport
}

// Unregister removes the entry only while t is still the registered
// transport, and reports whether it did.
func (r *Registry) Unregister(deviceUUID string, t Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[deviceUUID]
	if !ok || cur.transport != t {
		return false
	}
	delete(r.entries, deviceUUID)
	return true
}

// Lookup returns the device's transport if it is connected.
func (r *Registry) Lookup(deviceUUID string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[deviceUUID]
	return e.transport, ok
}

// ConnectedAt returns when the current transport was registered.
func (r *Registry) ConnectedAt(deviceUUID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[deviceUUID]
	return e.connectedAt, ok
}

// Connected returns the sorted device_uuids with a live transport.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of connected devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
