// Package reconcile periodically repairs drift between the live connection
// registry and the two stores.
package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"signage-control-backend/internal/model"
	"signage-control-backend/internal/relay"
)

// Store is the persistence the reconciler needs.
type Store interface {
	ListOnlinePlayers(ctx context.Context) ([]model.Player, error)
	ListPairedPlayers(ctx context.Context) ([]model.Player, error)
	SetPresence(ctx context.Context, deviceUUID, status string, at time.Time) error
	ExistingProfileIDs(ctx context.Context, ids []string) (map[string]bool, error)
}

// Report summarizes one pass.
type Report struct {
	MarkedOffline   []string
	OrphanedPlayers []string
}

// Service runs the reconciliation loop.
type Service struct {
	store     Store
	connected func(deviceUUID string) bool
	relay     relay.Publisher
	interval  time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewService creates a reconciler. connected reports whether a device
// currently holds a live transport.
func NewService(st Store, connected func(deviceUUID string) bool, pub relay.Publisher, interval time.Duration, log zerolog.Logger) *Service {
	if pub == nil {
		pub = relay.Nop{}
	}
	return &Service{
		store:     st,
		connected: connected,
		relay:     pub,
		interval:  interval,
		log:       log,
		now:       time.Now,
	}
}

// Run reconciles once immediately and then every interval until ctx ends.
func (s *Service) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("starting reconciler")
	s.ReconcileOnce(ctx)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("reconciler shutting down")
			return
		case <-timer.C:
			s.ReconcileOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// ReconcileOnce performs a single pass.
func (s *Service) ReconcileOnce(ctx context.Context) Report {
	var rep Report

	// Step 1: players stored as online without a live transport go offline.
	online, err := s.store.ListOnlinePlayers(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list online players")
	}
	now := s.now()
	for _, p := range online {
		if s.connected(p.DeviceUUID) {
			continue
		}
		if err := s.store.SetPresence(ctx, p.DeviceUUID, model.StatusOffline, now); err != nil {
			s.log.Warn().Err(err).Str("device_uuid", p.DeviceUUID).Msg("failed to mark stale player offline")
			continue
		}
		rep.MarkedOffline = append(rep.MarkedOffline, p.DeviceUUID)
		if org := p.OrgID(); org != "" {
			_ = s.relay.Publish(ctx, org, relay.EventPlayerStatus, map[string]any{
				"player_id":   p.ID,
				"device_uuid": p.DeviceUUID,
				"status":      model.StatusOffline,
			})
		}
	}

	// Step 2: paired players whose account vanished from the identity store.
	paired, err := s.store.ListPairedPlayers(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list paired players")
	}
	if len(paired) > 0 {
		ids := make([]string, 0, len(paired))
		for _, p := range paired {
			ids = append(ids, *p.AccountID)
		}
		existing, err := s.store.ExistingProfileIDs(ctx, ids)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to check account profiles")
		} else {
			for _, p := range paired {
				if existing[*p.AccountID] {
					continue
				}
				rep.OrphanedPlayers = append(rep.OrphanedPlayers, p.ID)
				s.log.Warn().
					Str("player_id", p.ID).
					Str("account_id", *p.AccountID).
					Str("organization_id", p.OrgID()).
					Msg("paired player references a missing account profile")
			}
		}
	}

	s.log.Info().
		Int("marked_offline", len(rep.MarkedOffline)).
		Int("orphaned_players", len(rep.OrphanedPlayers)).
		Msg("reconcile pass finished")
	return rep
}
