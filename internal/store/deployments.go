package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"signage-control-backend/internal/model"
)

// CreateDeployment persists the deployment and all its targets in one
// transaction.
func (g *Gateway) CreateDeployment(ctx context.Context, d *model.Deployment) error {
	return g.op.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		targets := d.Targets
		if err := tx.Omit("Targets").Create(d).Error; err != nil {
			return fmt.Errorf("failed to create deployment: %w", err)
		}
		if len(targets) > 0 {
			if err := tx.Create(&targets).Error; err != nil {
				return fmt.Errorf("failed to create deployment targets: %w", err)
			}
		}
		d.Targets = targets
		return nil
	})
}

// GetDeployment loads a deployment with its targets.
func (g *Gateway) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	var d model.Deployment
	err := g.op.WithContext(ctx).
		Preload("Targets", func(db *gorm.DB) *gorm.DB {
			return db.Order("device_uuid ASC")
		}).
		Where("id = ?", id).
		First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// AdvanceDeploymentTarget moves one target to state `to`, only from one of
// its allowed predecessor states. It reports whether the row changed.
func (g *Gateway) AdvanceDeploymentTarget(ctx context.Context, deploymentID, deviceUUID string, to model.AckState, at time.Time) (bool, error) {
	preds := to.Predecessors()
	if len(preds) == 0 {
		return false, fmt.Errorf("no transition into %q", to)
	}

	cols := map[string]any{"state": to, "updated_at": at}
	switch to {
	case model.AckPushed:
		cols["pushed_at"] = at
	case model.AckAcked:
		cols["acked_at"] = at
	case model.AckTimedOut:
		cols["timed_out_at"] = at
	}

	res := g.op.WithContext(ctx).Model(&model.DeploymentTarget{}).
		Where("deployment_id = ? AND device_uuid = ? AND state IN ?", deploymentID, deviceUUID, preds).
		Updates(cols)
	if res.Error != nil {
		return false, fmt.Errorf("failed to advance target %s/%s to %s: %w", deploymentID, deviceUUID, to, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// PendingTarget is a pushed target together with its deployment's org.
type PendingTarget struct {
	model.DeploymentTarget
	OrganizationID string
}

// ListPendingTargets returns every target still waiting for an ack.
func (g *Gateway) ListPendingTargets(ctx context.Context) ([]PendingTarget, error) {
	var rows []PendingTarget
	err := g.op.WithContext(ctx).
		Table("deployment_targets").
		Select("deployment_targets.*, deployments.organization_id").
		Joins("JOIN deployments ON deployments.id = deployment_targets.deployment_id").
		Where("deployment_targets.state = ?", model.AckPushed).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
