// Package relay fans device events out to the dashboards of the device's
// organization. Nothing is ever broadcast across organizations.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Dashboard events.
const (
	EventDeployAck      = "deploy:ack"
	EventDeployTimeout  = "deploy:timeout"
	EventPlayerStatus   = "player:status"
	EventPairingSuccess = "pairing:success"
	EventPlayerRemoved  = "player:removed"
)

// ErrNoOrganization is returned for events that carry no organization.
var ErrNoOrganization = errors.New("event has no organization")

// Publisher delivers an event to one organization's dashboards.
type Publisher interface {
	Publish(ctx context.Context, organizationID, event string, payload any) error
}

// Message is what a dashboard subscriber receives.
type Message struct {
	OrganizationID string    `json:"organization_id"`
	Event          string    `json:"event"`
	Data           any       `json:"data"`
	At             time.Time `json:"at"`
}

// Fanout publishes to several publishers. Failures are logged and the
// remaining publishers still run.
type Fanout struct {
	publishers []Publisher
	log        zerolog.Logger
}

// NewFanout combines publishers.
func NewFanout(log zerolog.Logger, publishers ...Publisher) *Fanout {
	return &Fanout{publishers: publishers, log: log}
}

// Publish implements Publisher.
func (f *Fanout) Publish(ctx context.Context, organizationID, event string, payload any) error {
	if organizationID == "" {
		f.log.Debug().Str("event", event).Msg("dropping event without organization")
		return ErrNoOrganization
	}

	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, organizationID, event, payload); err != nil {
			f.log.Warn().Err(err).Str("event", event).Str("organization_id", organizationID).Msg("relay publish failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, string, any) error { return nil }
