package model

import "time"

// PushSubscription holds the browser push subscription of a dashboard user.
// Delivery failures for the organization's devices are pushed to it.
type PushSubscription struct {
	Endpoint       string    `gorm:"primaryKey" json:"endpoint"`
	P256DH         string    `gorm:"column:p256dh;not null" json:"p256dh"`
	Auth           string    `gorm:"not null" json:"auth"`
	AccountID      string    `gorm:"index;size:36;not null" json:"account_id"`
	OrganizationID string    `gorm:"index;size:36;not null" json:"organization_id"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
}
