package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"signage-control-backend/internal/model"
)

// GetProfileByID loads an account profile from the identity store.
func (g *Gateway) GetProfileByID(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	if err := g.id.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ExistingProfileIDs returns the subset of ids that have a profile.
func (g *Gateway) ExistingProfileIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var existing []string
	if err := g.id.WithContext(ctx).Model(&model.Profile{}).Where("id IN ?", ids).Pluck("id", &existing).Error; err != nil {
		return nil, err
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}

// HasTechAssignment reports whether the technician is assigned to the organization.
func (g *Gateway) HasTechAssignment(ctx context.Context, techID, orgID string) (bool, error) {
	var n int64
	err := g.id.WithContext(ctx).Model(&model.TechAssignment{}).
		Where("tech_id = ? AND organization_id = ?", techID, orgID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListTechAssignments returns the organization ids assigned to a technician.
func (g *Gateway) ListTechAssignments(ctx context.Context, techID string) ([]string, error) {
	orgIDs := []string{}
	err := g.id.WithContext(ctx).Model(&model.TechAssignment{}).
		Where("tech_id = ?", techID).
		Pluck("organization_id", &orgIDs).Error
	if err != nil {
		return nil, err
	}
	return orgIDs, nil
}

// AssignTech grants a technician access to an organization. Repeated
// assignments are ignored.
func (g *Gateway) AssignTech(ctx context.Context, techID, orgID string) error {
	return g.id.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.TechAssignment{TechID: techID, OrganizationID: orgID, CreatedAt: time.Now()}).Error
}

// AppendAudit appends an entry to the audit log. Entries are never updated.
func (g *Gateway) AppendAudit(ctx context.Context, entry *model.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := g.id.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append audit %s: %w", entry.Action, err)
	}
	return nil
}

// AuditFilter narrows an audit log listing.
type AuditFilter struct {
	Action    string
	UserID    string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
}

// ListAuditLogs returns audit entries newest first.
func (g *Gateway) ListAuditLogs(ctx context.Context, f AuditFilter) ([]model.AuditLog, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := g.id.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.StartDate != nil {
		q = q.Where("created_at >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		q = q.Where("created_at <= ?", *f.EndDate)
	}

	logs := []model.AuditLog{}
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
