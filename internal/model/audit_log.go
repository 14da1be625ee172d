package model

import (
	"time"

	"gorm.io/datatypes"
)

// Audit actions written by the control plane.
const (
	AuditViewAsSwitch  = "view_as_switch"
	AuditViewAsExit    = "view_as_exit"
	AuditPlayerPaired  = "player_paired"
	AuditPlayerRemoved = "player_removed_from_organization"
)

// AuditLog is an append-only record of a privileged action.
type AuditLog struct {
	ID           int64             `gorm:"primaryKey" json:"id"`
	UserID       string            `gorm:"index;size:36;not null" json:"user_id"`
	UserEmail    string            `gorm:"size:256" json:"user_email"`
	Action       string            `gorm:"index;size:64;not null" json:"action"`
	ResourceType string            `gorm:"size:64" json:"resource_type"`
	ResourceID   string            `gorm:"size:64" json:"resource_id"`
	Details      string            `json:"details"`
	Metadata     datatypes.JSONMap `json:"metadata"`
	CreatedAt    time.Time         `gorm:"index;not null" json:"created_at"`
}
