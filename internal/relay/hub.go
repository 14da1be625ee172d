package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Subscription receives the events of one organization.
type Subscription struct {
	C     <-chan Message
	ch    chan Message
	orgID string
	hub   *Hub
	once  sync.Once
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

// Hub is the in-process relay for dashboard connections on this instance.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	log    zerolog.Logger
}

// NewHub creates a hub whose subscriptions buffer up to buffer messages.
// Messages for a full subscriber are dropped.
func NewHub(buffer int, log zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		log:    log,
	}
}

// Subscribe registers a receiver for the organization's events.
func (h *Hub) Subscribe(organizationID string) *Subscription {
	ch := make(chan Message, h.buffer)
	sub := &Subscription{C: ch, ch: ch, orgID: organizationID, hub: h}

	h.mu.Lock()
	set, ok := h.subs[organizationID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[organizationID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.orgID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.orgID)
	}
	close(sub.ch)
}

// Publish implements Publisher.
func (h *Hub) Publish(_ context.Context, organizationID, event string, payload any) error {
	if organizationID == "" {
		return ErrNoOrganization
	}
	h.deliver(Message{OrganizationID: organizationID, Event: event, Data: payload, At: time.Now()})
	return nil
}

func (h *Hub) deliver(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[msg.OrganizationID] {
		select {
		case sub.ch <- msg:
		default:
			h.log.Warn().Str("organization_id", msg.OrganizationID).Str("event", msg.Event).Msg("dashboard subscriber is slow, dropping event")
		}
	}
}

// Subscribers returns how many dashboards watch the organization.
func (h *Hub) Subscribers(organizationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[organizationID])
}
