package model

import "time"

// SyncReport is the latest reported cache state of a player. One row per
// player, overwritten on every report.
type SyncReport struct {
	PlayerID        string    `gorm:"primaryKey;size:36" json:"player_id"`
	CacheAssetCount int       `gorm:"not null;default:0" json:"cache_asset_count"`
	CurrentPage     string    `gorm:"size:64" json:"current_page"`
	LastSyncAt      time.Time `gorm:"not null" json:"last_sync_at"`
}
