package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"signage-control-backend/internal/model"
)

// GetPlaylistByID loads a playlist with its items and their content in
// display order.
func (g *Gateway) GetPlaylistByID(ctx context.Context, id string) (*model.Playlist, error) {
	var pl model.Playlist
	err := g.op.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC")
		}).
		Preload("Items.Content").
		Where("id = ?", id).
		First(&pl).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &pl, nil
}

// GetOrganizationByID loads an organization and its settings.
func (g *Gateway) GetOrganizationByID(ctx context.Context, id string) (*model.Organization, error) {
	var org model.Organization
	if err := g.op.WithContext(ctx).Where("id = ?", id).First(&org).Error; err != nil {
		return nil, notFound(err)
	}
	return &org, nil
}

// ListOrganizations returns organizations ordered by name. A nil ids slice
// returns all of them.
func (g *Gateway) ListOrganizations(ctx context.Context, ids []string) ([]model.Organization, error) {
	var orgs []model.Organization
	q := g.op.WithContext(ctx).Order("name ASC")
	if ids != nil {
		if len(ids) == 0 {
			return orgs, nil
		}
		q = q.Where("id IN ?", ids)
	}
	if err := q.Find(&orgs).Error; err != nil {
		return nil, err
	}
	return orgs, nil
}

var jsonSettingsColumns = map[string]bool{
	"offline_border_custom_colors":    true,
	"offline_border_custom_animation": true,
}

// UpdateOrganizationSettings applies the whitelisted subset of fields to the
// organization. Unknown keys are ignored; ErrNoAllowedFields is returned
// when nothing remains.
func (g *Gateway) UpdateOrganizationSettings(ctx context.Context, orgID string, fields map[string]any) (*model.Organization, error) {
	updates := make(map[string]any)
	for _, col := range model.SettingsColumns {
		v, ok := fields[col]
		if !ok {
			continue
		}
		if jsonSettingsColumns[col] && v != nil {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", col, err)
			}
			v = datatypes.JSON(raw)
		}
		updates[col] = v
	}
	if len(updates) == 0 {
		return nil, ErrNoAllowedFields
	}

	var org model.Organization
	err := g.op.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Organization{}).Where("id = ?", orgID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("id = ?", orgID).First(&org).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &org, nil
}
