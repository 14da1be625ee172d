package model

import "time"

// Content is a single media asset.
type Content struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:256;not null" json:"name"`
	Type      string    `gorm:"size:32;not null" json:"type"`
	URL       string    `gorm:"size:1024" json:"url"`
	Duration  int       `gorm:"not null;default:10" json:"duration"`
	CreatedAt time.Time `json:"created_at"`
}

// Playlist is an ordered set of content shipped to players.
type Playlist struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID *string        `gorm:"index;size:36" json:"organization_id"`
	Name           string         `gorm:"size:256;not null" json:"name"`
	Description    string         `json:"description"`
	Items          []PlaylistItem `gorm:"foreignKey:PlaylistID" json:"items"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// PlaylistItem places content at a position within a playlist.
type PlaylistItem struct {
	ID           int64   `gorm:"primaryKey" json:"-"`
	PlaylistID   string  `gorm:"index;size:36;not null" json:"-"`
	ContentID    string  `gorm:"size:36;not null" json:"content_id"`
	DisplayOrder int     `gorm:"not null;default:0" json:"display_order"`
	Content      Content `gorm:"constraint:OnDelete:CASCADE" json:"content"`
}
