package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"signage-control-backend/internal/model"
)

// PlayerChanges lists the player columns the control plane may rewrite.
// Nil fields are left untouched.
type PlayerChanges struct {
	Name                 *string
	PlaylistID           *string
	OrganizationID       *string
	AccountID            *string
	PairedAt             *time.Time
	PairingCode          *string
	PairingCodeExpiresAt *time.Time
	LastDeployAck        *time.Time
	LastDeployTimestamp  *time.Time

	// ClearPairingCode nulls the pairing code and its expiry.
	ClearPairingCode bool
	// Unassign nulls organization_id, account_id and paired_at.
	Unassign bool
}

func (c PlayerChanges) columns() map[string]any {
	cols := make(map[string]any)
	if c.Name != nil {
		cols["name"] = *c.Name
	}
	if c.PlaylistID != nil {
		cols["playlist_id"] = *c.PlaylistID
	}
	if c.OrganizationID != nil {
		cols["organization_id"] = *c.OrganizationID
	}
	if c.AccountID != nil {
		cols["account_id"] = *c.AccountID
	}
	if c.PairedAt != nil {
		cols["paired_at"] = *c.PairedAt
	}
	if c.PairingCode != nil {
		cols["pairing_code"] = *c.PairingCode
	}
	if c.PairingCodeExpiresAt != nil {
		cols["pairing_code_expires_at"] = *c.PairingCodeExpiresAt
	}
	if c.LastDeployAck != nil {
		cols["last_deploy_ack"] = *c.LastDeployAck
	}
	if c.LastDeployTimestamp != nil {
		cols["last_deploy_timestamp"] = *c.LastDeployTimestamp
	}
	if c.ClearPairingCode {
		cols["pairing_code"] = nil
		cols["pairing_code_expires_at"] = nil
	}
	if c.Unassign {
		cols["organization_id"] = nil
		cols["account_id"] = nil
		cols["paired_at"] = nil
	}
	return cols
}

// GetPlayerByDeviceUUID resolves a device's hardware identity to its player record.
func (g *Gateway) GetPlayerByDeviceUUID(ctx context.Context, deviceUUID string) (*model.Player, error) {
	var p model.Player
	if err := g.op.WithContext(ctx).Where("device_uuid = ?", deviceUUID).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// GetPlayerByID loads a player by its logical id.
func (g *Gateway) GetPlayerByID(ctx context.Context, id string) (*model.Player, error) {
	var p model.Player
	if err := g.op.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// GetPlayerByPairingCode finds the unpaired player currently showing code.
func (g *Gateway) GetPlayerByPairingCode(ctx context.Context, code string) (*model.Player, error) {
	var p model.Player
	if err := g.op.WithContext(ctx).Where("pairing_code = ?", code).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ListPlayersByDeviceUUIDs returns the players whose device_uuid is in uuids.
func (g *Gateway) ListPlayersByDeviceUUIDs(ctx context.Context, uuids []string) ([]model.Player, error) {
	var players []model.Player
	if len(uuids) == 0 {
		return players, nil
	}
	if err := g.op.WithContext(ctx).Where("device_uuid IN ?", uuids).Find(&players).Error; err != nil {
		return nil, err
	}
	return players, nil
}

// ListOnlinePlayers returns every player whose stored presence is online.
func (g *Gateway) ListOnlinePlayers(ctx context.Context) ([]model.Player, error) {
	var players []model.Player
	if err := g.op.WithContext(ctx).Where("status = ?", model.StatusOnline).Find(&players).Error; err != nil {
		return nil, err
	}
	return players, nil
}

// ListPairedPlayers returns every player claimed by an account.
func (g *Gateway) ListPairedPlayers(ctx context.Context) ([]model.Player, error) {
	var players []model.Player
	if err := g.op.WithContext(ctx).Where("account_id IS NOT NULL").Find(&players).Error; err != nil {
		return nil, err
	}
	return players, nil
}

// CreatePlayer inserts a new player record.
func (g *Gateway) CreatePlayer(ctx context.Context, p *model.Player) error {
	if err := g.op.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create player %s: %w", p.DeviceUUID, err)
	}
	return nil
}

// UpdatePlayer applies changes to the player with the given id and returns
// the updated record.
func (g *Gateway) UpdatePlayer(ctx context.Context, id string, changes PlayerChanges) (*model.Player, error) {
	cols := changes.columns()
	if len(cols) == 0 {
		return nil, ErrNoAllowedFields
	}

	var updated model.Player
	err := g.op.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Player{}).Where("id = ?", id).Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("id = ?", id).First(&updated).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &updated, nil
}

// SetPresence records the device's reachability and last contact time.
func (g *Gateway) SetPresence(ctx context.Context, deviceUUID, status string, at time.Time) error {
	res := g.op.WithContext(ctx).Model(&model.Player{}).
		Where("device_uuid = ?", deviceUUID).
		Updates(map[string]any{"status": status, "last_seen": at})
	if res.Error != nil {
		return fmt.Errorf("failed to set presence for %s: %w", deviceUUID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// StampDeployAck records the time of the device's latest deployment ack.
func (g *Gateway) StampDeployAck(ctx context.Context, deviceUUID string, at time.Time) error {
	res := g.op.WithContext(ctx).Model(&model.Player{}).
		Where("device_uuid = ?", deviceUUID).
		Updates(map[string]any{"last_deploy_ack": at, "last_deploy_timestamp": at})
	if res.Error != nil {
		return fmt.Errorf("failed to stamp deploy ack for %s: %w", deviceUUID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
