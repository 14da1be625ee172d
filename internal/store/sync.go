package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"signage-control-backend/internal/model"
)

// SyncUpdate is one telemetry report. Nil fields keep their stored value on
// an existing row.
type SyncUpdate struct {
	CacheAssetCount *int
	CurrentPage     *string
	At              time.Time
}

// UpdatePlayerSyncStatus upserts the player's sync report. Last write wins.
func (g *Gateway) UpdatePlayerSyncStatus(ctx context.Context, playerID string, u SyncUpdate) error {
	report := model.SyncReport{PlayerID: playerID, LastSyncAt: u.At}
	cols := []string{"last_sync_at"}
	if u.CacheAssetCount != nil {
		report.CacheAssetCount = *u.CacheAssetCount
		cols = append(cols, "cache_asset_count")
	}
	if u.CurrentPage != nil {
		report.CurrentPage = *u.CurrentPage
		cols = append(cols, "current_page")
	}

	err := g.op.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(&report).Error
	if err != nil {
		return fmt.Errorf("failed to upsert sync report for player %s: %w", playerID, err)
	}
	return nil
}

// GetSyncReport returns the latest sync report of a player.
func (g *Gateway) GetSyncReport(ctx context.Context, playerID string) (*model.SyncReport, error) {
	var r model.SyncReport
	if err := g.op.WithContext(ctx).Where("player_id = ?", playerID).First(&r).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}
