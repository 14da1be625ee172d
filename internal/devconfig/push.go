package devconfig

import (
	"context"

	"signage-control-backend/internal/model"
	"signage-control-backend/internal/registry"
)

// EventConfig is the frame carrying a Payload.
const EventConfig = "config"

// Pusher sends freshly built payloads to connected players.
type Pusher struct {
	builder  *Builder
	registry *registry.Registry
}

// NewPusher creates a pusher.
func NewPusher(b *Builder, reg *registry.Registry) *Pusher {
	return &Pusher{builder: b, registry: reg}
}

// Builder returns the underlying builder.
func (p *Pusher) Builder() *Builder {
	return p.builder
}

// Push builds the player's payload and sends it if the player is connected.
// It reports whether a frame was written.
func (p *Pusher) Push(ctx context.Context, player *model.Player) (bool, error) {
	t, ok := p.registry.Lookup(player.DeviceUUID)
	if !ok {
		return false, nil
	}
	payload, err := p.builder.Build(ctx, player)
	if err != nil {
		return false, err
	}
	if err := t.Send(EventConfig, payload); err != nil {
		return false, err
	}
	return true, nil
}
