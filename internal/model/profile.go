package model

import "time"

// Profile is an account in the identity store.
type Profile struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Email          string    `gorm:"uniqueIndex;size:256;not null" json:"email"`
	FullName       string    `gorm:"size:256" json:"full_name"`
	DisplayName    string    `gorm:"size:256" json:"display_name"`
	Role           string    `gorm:"size:32;not null;default:Viewer" json:"role"`
	OrganizationID *string   `gorm:"index;size:36" json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Label is the name shown for the account: full name, display name, then email.
func (p *Profile) Label() string {
	switch {
	case p.FullName != "":
		return p.FullName
	case p.DisplayName != "":
		return p.DisplayName
	default:
		return p.Email
	}
}

// TechAssignment grants a support technician access to an organization.
type TechAssignment struct {
	ID             int64     `gorm:"primaryKey"`
	TechID         string    `gorm:"uniqueIndex:ux_tech_org;size:36;not null"`
	OrganizationID string    `gorm:"uniqueIndex:ux_tech_org;size:36;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}
