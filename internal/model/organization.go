package model

import (
	"time"

	"gorm.io/datatypes"
)

// Organization is a tenant. The offline border columns, default playlist and
// wallpaper together form the settings consumed by the device config builder.
type Organization struct {
	ID                           string         `gorm:"primaryKey;size:36" json:"id"`
	Name                         string         `gorm:"size:256;not null" json:"name"`
	DefaultPlaylistID            *string        `gorm:"size:36" json:"default_playlist_id"`
	DefaultGroupID               *string        `gorm:"size:36" json:"default_group_id"`
	OfflineThresholdMinutes      *int           `json:"offline_threshold_minutes"`
	OfflineBorderEnabled         *bool          `json:"offline_border_enabled"`
	OfflineBorderTemplate        *int           `json:"offline_border_template"`
	OfflineBorderWidth           *string        `gorm:"size:16" json:"offline_border_width"`
	OfflineBorderCustomColors    datatypes.JSON `json:"offline_border_custom_colors"`
	OfflineBorderCustomAnimation datatypes.JSON `json:"offline_border_custom_animation"`
	WallpaperURL                 *string        `gorm:"size:1024" json:"wallpaper_url"`
	CreatedAt                    time.Time      `json:"created_at"`
	UpdatedAt                    time.Time      `json:"updated_at"`
}

// SettingsColumns is the whitelist of organization columns that may be
// changed through the settings update path.
var SettingsColumns = []string{
	"name",
	"default_playlist_id",
	"default_group_id",
	"offline_threshold_minutes",
	"offline_border_template",
	"offline_border_enabled",
	"offline_border_width",
	"offline_border_custom_colors",
	"offline_border_custom_animation",
	"wallpaper_url",
}
