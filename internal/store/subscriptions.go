package store

import (
	"context"

	"gorm.io/gorm/clause"

	"signage-control-backend/internal/model"
)

// UpsertPushSubscription creates or replaces a browser push subscription.
func (g *Gateway) UpsertPushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return g.id.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "account_id", "organization_id"}),
	}).Create(sub).Error
}

// GetPushSubscription loads a subscription by endpoint.
func (g *Gateway) GetPushSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := g.id.WithContext(ctx).Where("endpoint = ?", endpoint).First(&sub).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

// DeletePushSubscription removes a subscription. Deleting a missing endpoint
// is not an error.
func (g *Gateway) DeletePushSubscription(ctx context.Context, endpoint string) error {
	return g.id.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&model.PushSubscription{}).Error
}

// ListPushSubscriptionsByOrg returns the subscriptions of an organization's users.
func (g *Gateway) ListPushSubscriptionsByOrg(ctx context.Context, orgID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := g.id.WithContext(ctx).Where("organization_id = ?", orgID).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
