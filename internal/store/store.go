// Package store is the persistence gateway over the two backing stores: the
// operational store (players, playlists, organizations, telemetry,
// deployments) and the identity store (profiles, tech assignments, audit
// log, push subscriptions).
//
// Operations that touch both stores are never wrapped in a distributed
// transaction. Callers write the operational store first and treat the
// identity write as best-effort.
package store

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrNoAllowedFields is returned when an update carries no whitelisted column.
	ErrNoAllowedFields = errors.New("no allowed fields to update")
)

// Gateway is the CRUD façade over the operational and identity stores.
type Gateway struct {
	op *gorm.DB
	id *gorm.DB
}

// NewGateway creates a gateway. The two handles may point at the same
// database in single-node deployments.
func NewGateway(operational, identity *gorm.DB) *Gateway {
	return &Gateway{op: operational, id: identity}
}

// Operational exposes the operational handle for health checks.
func (g *Gateway) Operational() *gorm.DB {
	return g.op
}

// Identity exposes the identity handle for health checks.
func (g *Gateway) Identity() *gorm.DB {
	return g.id
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
