package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const dashboardChannel = "dashboard"

// Subject returns the NATS subject an organization's event is published on.
func Subject(organizationID, event string) string {
	return organizationID + "." + dashboardChannel + "." + event
}

type natsEnvelope struct {
	Origin string  `json:"origin"`
	Msg    Message `json:"msg"`
}

// NATSPublisher relays events to the other control plane instances.
type NATSPublisher struct {
	nc     *nats.Conn
	origin string
	log    zerolog.Logger
}

// Connect dials NATS and returns a publisher bound to the connection.
func Connect(url string, log zerolog.Logger, extraOpts ...nats.Option) (*NATSPublisher, error) {
	opts := append([]nats.Option{
		nats.Name("signage-controld"),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}, extraOpts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSPublisher(nc, log), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(nc *nats.Conn, log zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, origin: uuid.NewString(), log: log}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, organizationID, event string, payload any) error {
	if organizationID == "" {
		return ErrNoOrganization
	}
	data, err := json.Marshal(natsEnvelope{
		Origin: p.origin,
		Msg:    Message{OrganizationID: organizationID, Event: event, Data: payload, At: time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event, err)
	}
	if err := p.nc.Publish(Subject(organizationID, event), data); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event, err)
	}
	return nil
}

// Bridge feeds events published by other instances into the local hub
// until ctx is cancelled. Events this instance published are skipped since
// the hub already delivered them.
func (p *NATSPublisher) Bridge(ctx context.Context, hub *Hub) error {
	sub, err := p.nc.Subscribe("*."+dashboardChannel+".>", func(m *nats.Msg) {
		var env natsEnvelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			p.log.Warn().Err(err).Str("subject", m.Subject).Msg("dropping malformed relay message")
			return
		}
		if env.Origin == p.origin {
			return
		}
		org, _, _ := strings.Cut(m.Subject, ".")
		if org == "" || org != env.Msg.OrganizationID {
			p.log.Warn().Str("subject", m.Subject).Msg("relay message organization mismatch")
			return
		}
		hub.deliver(env.Msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to relay subjects: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
