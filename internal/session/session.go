// Package session runs the lifecycle of device connections: identification,
// heartbeat supervision and presence bookkeeping.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signage-control-backend/internal/model"
	"signage-control-backend/internal/registry"
	"signage-control-backend/internal/relay"
	"signage-control-backend/internal/store"
)

// State of a device session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	// ErrUnknownDevice is returned when a device_uuid does not resolve to a player.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrNotIdentified is returned for events sent before a successful register.
	ErrNotIdentified = errors.New("session not identified")
)

// PlayerStore is the subset of the gateway the session manager needs.
type PlayerStore interface {
	GetPlayerByDeviceUUID(ctx context.Context, deviceUUID string) (*model.Player, error)
	SetPresence(ctx context.Context, deviceUUID, status string, at time.Time) error
}

// Session is one device connection.
type Session struct {
	transport registry.Transport

	mu         sync.Mutex
	state      State
	deviceUUID string
	player     *model.Player
	watchdog   *time.Timer
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DeviceUUID returns the identified device, or "" before identification.
func (s *Session) DeviceUUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceUUID
}

// Player returns the player resolved at identification.
func (s *Session) Player() *model.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

// Transport returns the session's transport.
func (s *Session) Transport() registry.Transport {
	return s.transport
}

// Manager owns device sessions.
type Manager struct {
	registry *registry.Registry
	store    PlayerStore
	relay    relay.Publisher
	grace    time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewManager creates a session manager. A device that stays silent longer
// than grace is disconnected.
func NewManager(reg *registry.Registry, st PlayerStore, pub relay.Publisher, grace time.Duration, log zerolog.Logger) *Manager {
	if pub == nil {
		pub = relay.Nop{}
	}
	return &Manager{
		registry: reg,
		store:    st,
		relay:    pub,
		grace:    grace,
		log:      log,
		now:      time.Now,
	}
}

// Open starts a session for a freshly accepted transport.
func (m *Manager) Open(t registry.Transport) *Session {
	return &Session{transport: t, state: Connecting}
}

// Identify binds the session to a device. Unknown devices get their
// transport closed and leave no registry or presence state behind.
func (m *Manager) Identify(ctx context.Context, s *Session, deviceUUID string) (*model.Player, error) {
	s.mu.Lock()
	if s.state != Connecting {
		s.mu.Unlock()
		return nil, ErrNotIdentified
	}
	s.mu.Unlock()

	var player *model.Player
	var err error
	if deviceUUID != "" {
		player, err = m.store.GetPlayerByDeviceUUID(ctx, deviceUUID)
	}
	if deviceUUID == "" || err != nil {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			m.log.Error().Err(err).Str("device_uuid", deviceUUID).Msg("device lookup failed")
		}
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		_ = s.transport.Close()
		return nil, ErrUnknownDevice
	}

	s.mu.Lock()
	if s.state != Connecting {
		// Closed while the lookup was in flight.
		s.mu.Unlock()
		return nil, ErrNotIdentified
	}
	s.deviceUUID = deviceUUID
	s.player = player
	s.state = Connected
	s.watchdog = time.AfterFunc(m.grace, func() { m.expire(s) })
	// Swapped under the session lock so a concurrent Close cannot slip
	// between the state change and the registry entry. The superseded
	// transport is closed after unlock.
	superseded := m.registry.Swap(deviceUUID, s.transport)
	s.mu.Unlock()

	if superseded != nil {
		_ = superseded.Close()
	}

	m.log.Info().Str("device_uuid", deviceUUID).Str("player_id", player.ID).Msg("device connected")

	m.markPresence(ctx, player, model.StatusOnline)
	return player, nil
}

// Heartbeat extends the session's grace window.
func (m *Manager) Heartbeat(ctx context.Context, s *Session) error {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return ErrNotIdentified
	}
	s.watchdog.Reset(m.grace)
	player := s.player
	s.mu.Unlock()

	if err := m.store.SetPresence(ctx, player.DeviceUUID, model.StatusOnline, m.now()); err != nil {
		m.log.Warn().Err(err).Str("device_uuid", player.DeviceUUID).Msg("failed to record heartbeat")
	}
	return nil
}

// Close ends the session. It is safe to call more than once. Presence goes
// offline only if this session still owned the registry entry, so a
// superseded connection never marks a reconnected device offline.
func (m *Manager) Close(ctx context.Context, s *Session, reason string) {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return
	}
	wasConnected := s.state == Connected
	s.state = Disconnected
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	player := s.player
	s.mu.Unlock()

	_ = s.transport.Close()

	if !wasConnected {
		return
	}
	if !m.registry.Unregister(player.DeviceUUID, s.transport) {
		m.log.Debug().Str("device_uuid", player.DeviceUUID).Str("reason", reason).Msg("superseded session closed")
		return
	}
	m.log.Info().Str("device_uuid", player.DeviceUUID).Str("reason", reason).Msg("device disconnected")
	m.markPresence(context.WithoutCancel(ctx), player, model.StatusOffline)
}

func (m *Manager) expire(s *Session) {
	m.log.Info().Str("device_uuid", s.DeviceUUID()).Dur("grace", m.grace).Msg("heartbeat grace expired")
	m.Close(context.Background(), s, "heartbeat timeout")
}

// markPresence records the status and relays it to the player's current
// organization. The player is re-read because pairing or unassignment may
// have moved it since the session identified.
func (m *Manager) markPresence(ctx context.Context, player *model.Player, status string) {
	if err := m.store.SetPresence(ctx, player.DeviceUUID, status, m.now()); err != nil {
		m.log.Warn().Err(err).Str("device_uuid", player.DeviceUUID).Str("status", status).Msg("failed to record presence")
	}

	current, err := m.store.GetPlayerByDeviceUUID(ctx, player.DeviceUUID)
	if err != nil {
		m.log.Warn().Err(err).Str("device_uuid", player.DeviceUUID).Msg("failed to resolve organization for presence event")
		return
	}
	player = current

	org := player.OrgID()
	if org == "" {
		return
	}
	_ = m.relay.Publish(ctx, org, relay.EventPlayerStatus, map[string]any{
		"player_id":   player.ID,
		"device_uuid": player.DeviceUUID,
		"status":      status,
	})
}
