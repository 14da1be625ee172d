package model

import "time"

// Presence values stored in players.status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Player is a physical signage device. DeviceUUID is the immutable hardware
// identity; ID is the logical record the rest of the system references.
type Player struct {
	ID                   string     `gorm:"primaryKey;size:36" json:"id"`
	DeviceUUID           string     `gorm:"column:device_uuid;uniqueIndex;size:64;not null" json:"device_uuid"`
	CPUSerial            string     `gorm:"column:cpu_serial;size:128" json:"cpu_serial"`
	Name                 string     `gorm:"size:256" json:"name"`
	OrganizationID       *string    `gorm:"column:organization_id;index;size:36" json:"organization_id"`
	AccountID            *string    `gorm:"column:account_id;size:36" json:"account_id"`
	PlaylistID           *string    `gorm:"column:playlist_id;size:36" json:"playlist_id"`
	Status               string     `gorm:"size:16;not null;default:offline" json:"status"`
	LastSeen             *time.Time `json:"last_seen"`
	PairingCode          *string    `gorm:"index;size:8" json:"-"`
	PairingCodeExpiresAt *time.Time `json:"-"`
	PairedAt             *time.Time `json:"paired_at"`
	LastDeployAck        *time.Time `json:"last_deploy_ack"`
	LastDeployTimestamp  *time.Time `json:"last_deploy_timestamp"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Paired reports whether an account has claimed the device.
func (p *Player) Paired() bool {
	return p.AccountID != nil && *p.AccountID != "" && p.PairedAt != nil
}

// OrgID returns the owning organization or "" for unpaired devices.
func (p *Player) OrgID() string {
	if p.OrganizationID == nil {
		return ""
	}
	return *p.OrganizationID
}
