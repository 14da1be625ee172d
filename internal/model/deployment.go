package model

import "time"

// AckState is the delivery state of one deployment target.
type AckState string

const (
	AckQueued   AckState = "queued"
	AckPushed   AckState = "pushed"
	AckAcked    AckState = "acked"
	AckTimedOut AckState = "timed_out"
)

// Predecessors returns the states a target may move from to reach s.
func (s AckState) Predecessors() []AckState {
	switch s {
	case AckPushed:
		return []AckState{AckQueued}
	case AckAcked, AckTimedOut:
		return []AckState{AckQueued, AckPushed}
	default:
		return nil
	}
}

// Terminal reports whether no further transition is possible.
func (s AckState) Terminal() bool {
	return s == AckAcked || s == AckTimedOut
}

// Deployment is one push of a payload to a set of players.
type Deployment struct {
	ID             string             `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID string             `gorm:"index;size:36" json:"organization_id"`
	IssuedBy       string             `gorm:"size:36" json:"issued_by"`
	PayloadRef     string             `gorm:"size:256;not null" json:"payload_ref"`
	IssuedAt       time.Time          `gorm:"not null" json:"issued_at"`
	Targets        []DeploymentTarget `gorm:"foreignKey:DeploymentID" json:"targets"`
}

// DeploymentTarget tracks delivery of a deployment to a single device.
type DeploymentTarget struct {
	DeploymentID string     `gorm:"primaryKey;size:36" json:"deployment_id"`
	DeviceUUID   string     `gorm:"primaryKey;column:device_uuid;size:64" json:"device_uuid"`
	PlayerID     string     `gorm:"index;size:36" json:"player_id"`
	State        AckState   `gorm:"index;size:16;not null" json:"state"`
	PushedAt     *time.Time `json:"pushed_at"`
	AckedAt      *time.Time `json:"acked_at"`
	TimedOutAt   *time.Time `json:"timed_out_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
