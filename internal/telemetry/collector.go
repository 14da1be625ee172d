// Package telemetry records what connected players report about their local
// cache and the page they are showing.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"signage-control-backend/internal/model"
	"signage-control-backend/internal/registry"
	"signage-control-backend/internal/store"
)

// ErrNotConnected rejects reports from devices without a live transport.
var ErrNotConnected = errors.New("device is not connected")

// Store is the persistence the collector needs.
type Store interface {
	GetPlayerByDeviceUUID(ctx context.Context, deviceUUID string) (*model.Player, error)
	UpdatePlayerSyncStatus(ctx context.Context, playerID string, u store.SyncUpdate) error
}

// SyncStatus is the body of a sync_status report. Downloaded wins over
// AssetCount when both are present.
type SyncStatus struct {
	Status      string `json:"status"`
	Downloaded  *int   `json:"downloaded"`
	AssetCount  *int   `json:"asset_count"`
	CurrentPage string `json:"current_page"`
}

// CacheAssetCount returns the count to store.
func (s SyncStatus) CacheAssetCount() int {
	switch {
	case s.Downloaded != nil:
		return *s.Downloaded
	case s.AssetCount != nil:
		return *s.AssetCount
	default:
		return 0
	}
}

// Collector upserts sync reports. Failures are returned to the caller for
// logging and never affect the device's session.
type Collector struct {
	registry *registry.Registry
	store    Store
	players  *cache.Cache
	log      zerolog.Logger
	now      func() time.Time
}

// NewCollector creates a collector. Resolved player ids are cached for ttl.
func NewCollector(reg *registry.Registry, st Store, ttl time.Duration, log zerolog.Logger) *Collector {
	return &Collector{
		registry: reg,
		store:    st,
		players:  cache.New(ttl, 2*ttl),
		log:      log,
		now:      time.Now,
	}
}

// RecordSyncStatus stores the device's cache state.
func (c *Collector) RecordSyncStatus(ctx context.Context, deviceUUID string, s SyncStatus) error {
	count := s.CacheAssetCount()
	u := store.SyncUpdate{CacheAssetCount: &count, At: c.now()}
	if s.CurrentPage != "" {
		page := s.CurrentPage
		u.CurrentPage = &page
	}
	return c.record(ctx, deviceUUID, u)
}

// RecordPageChange stores the page the device now shows. An empty page is
// ignored.
func (c *Collector) RecordPageChange(ctx context.Context, deviceUUID, page string) error {
	if page == "" {
		return nil
	}
	return c.record(ctx, deviceUUID, store.SyncUpdate{CurrentPage: &page, At: c.now()})
}

func (c *Collector) record(ctx context.Context, deviceUUID string, u store.SyncUpdate) error {
	if _, ok := c.registry.Lookup(deviceUUID); !ok {
		return ErrNotConnected
	}

	playerID, err := c.playerID(ctx, deviceUUID)
	if err != nil {
		return err
	}

	if err := c.store.UpdatePlayerSyncStatus(ctx, playerID, u); err != nil {
		c.log.Warn().Err(err).Str("device_uuid", deviceUUID).Msg("failed to store sync report")
		return err
	}
	return nil
}

func (c *Collector) playerID(ctx context.Context, deviceUUID string) (string, error) {
	if id, ok := c.players.Get(deviceUUID); ok {
		return id.(string), nil
	}
	p, err := c.store.GetPlayerByDeviceUUID(ctx, deviceUUID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve player for %s: %w", deviceUUID, err)
	}
	c.players.SetDefault(deviceUUID, p.ID)
	return p.ID, nil
}
