// Package pairing claims devices for accounts with short-lived codes.
package pairing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"signage-control-backend/internal/model"
	"signage-control-backend/internal/relay"
	"signage-control-backend/internal/store"
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
	codeTTL      = time.Hour
	codeAttempts = 5
)

var (
	ErrMissingFields   = errors.New("missing required fields")
	ErrAlreadyPaired   = errors.New("device already paired")
	ErrInvalidCode     = errors.New("invalid pairing code")
	ErrCodeExpired     = errors.New("pairing code expired")
	ErrUnknownAccount  = errors.New("account not found")
	ErrNoOrganization  = errors.New("account has no organization")
	ErrNotAssigned     = errors.New("player is not assigned to an organization")
	ErrCodeUnavailable = errors.New("could not allocate a unique pairing code")
)

// Store is the persistence pairing needs from both stores.
type Store interface {
	GetPlayerByDeviceUUID(ctx context.Context, deviceUUID string) (*model.Player, error)
	GetPlayerByPairingCode(ctx context.Context, code string) (*model.Player, error)
	GetPlayerByID(ctx context.Context, id string) (*model.Player, error)
	CreatePlayer(ctx context.Context, p *model.Player) error
	UpdatePlayer(ctx context.Context, id string, changes store.PlayerChanges) (*model.Player, error)
	GetProfileByID(ctx context.Context, id string) (*model.Profile, error)
	AppendAudit(ctx context.Context, entry *model.AuditLog) error
}

// ConfigPusher refreshes a connected player's config.
type ConfigPusher interface {
	Push(ctx context.Context, player *model.Player) (bool, error)
}

// Code is an issued pairing code.
type Code struct {
	PairingCode string    `json:"pairing_code"`
	ExpiresAt   time.Time `json:"expires_at"`
	QRData      string    `json:"qr_data"`
	PlayerID    string    `json:"player_id"`
}

// VerifyRequest claims a device. OrganizationID overrides the account's own
// organization, for staff pairing on behalf of a customer.
type VerifyRequest struct {
	Code           string
	AccountID      string
	DeviceName     string
	OrganizationID string
}

// Status is what a device polling for pairing sees.
type Status struct {
	Paired      bool       `json:"paired"`
	PlayerID    string     `json:"player_id"`
	Name        string     `json:"name,omitempty"`
	AccountID   *string    `json:"account_id,omitempty"`
	PlaylistID  *string    `json:"playlist_id,omitempty"`
	PairingCode *string    `json:"pairing_code,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Actor is the account performing an administrative change.
type Actor struct {
	AccountID string
	Email     string
}

// Service runs the pairing flow.
type Service struct {
	store   Store
	relay   relay.Publisher
	configs ConfigPusher
	qrBase  string
	log     zerolog.Logger
	now     func() time.Time
}

// NewService creates a pairing service. QR payloads link to
// <apiURL>/players/pair.
func NewService(st Store, pub relay.Publisher, configs ConfigPusher, apiURL string, log zerolog.Logger) *Service {
	if pub == nil {
		pub = relay.Nop{}
	}
	return &Service{
		store:   st,
		relay:   pub,
		configs: configs,
		qrBase:  strings.TrimRight(apiURL, "/") + "/players/pair?code=",
		log:     log,
		now:     time.Now,
	}
}

// Generate issues a fresh code for an unpaired device, creating its player
// record on first contact.
func (s *Service) Generate(ctx context.Context, cpuSerial, deviceUUID string) (*Code, error) {
	if cpuSerial == "" || deviceUUID == "" {
		return nil, ErrMissingFields
	}

	existing, err := s.store.GetPlayerByDeviceUUID(ctx, deviceUUID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Paired() {
		return nil, ErrAlreadyPaired
	}

	code, err := s.uniqueCode(ctx)
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(codeTTL).UTC()

	var playerID string
	if existing != nil {
		if _, err := s.store.UpdatePlayer(ctx, existing.ID, store.PlayerChanges{
			PairingCode:          &code,
			PairingCodeExpiresAt: &expiresAt,
		}); err != nil {
			return nil, err
		}
		playerID = existing.ID
	} else {
		p := &model.Player{
			ID:                   uuid.NewString(),
			DeviceUUID:           deviceUUID,
			CPUSerial:            cpuSerial,
			Name:                 "Device " + code,
			Status:               model.StatusOffline,
			PairingCode:          &code,
			PairingCodeExpiresAt: &expiresAt,
		}
		if err := s.store.CreatePlayer(ctx, p); err != nil {
			return nil, err
		}
		playerID = p.ID
	}

	s.log.Info().Str("device_uuid", deviceUUID).Str("player_id", playerID).Msg("pairing code issued")
	return &Code{
		PairingCode: code,
		ExpiresAt:   expiresAt,
		QRData:      s.qrBase + code,
		PlayerID:    playerID,
	}, nil
}

func (s *Service) uniqueCode(ctx context.Context) (string, error) {
	for range codeAttempts {
		code, err := newCode()
		if err != nil {
			return "", err
		}
		_, err = s.store.GetPlayerByPairingCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", ErrCodeUnavailable
}

func newCode() (string, error) {
	size := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	for range codeLength {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("failed to generate pairing code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// Verify pairs the device holding the code to the account. The operational
// write is the system of record; the audit entry that follows is
// best-effort.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*model.Player, error) {
	if req.Code == "" || req.AccountID == "" {
		return nil, ErrMissingFields
	}

	player, err := s.store.GetPlayerByPairingCode(ctx, strings.ToUpper(strings.TrimSpace(req.Code)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	if player.Paired() {
		return nil, ErrAlreadyPaired
	}
	if player.PairingCodeExpiresAt == nil || player.PairingCodeExpiresAt.Before(s.now()) {
		return nil, ErrCodeExpired
	}

	profile, err := s.store.GetProfileByID(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, fmt.Errorf("failed to resolve account: %w", err)
	}
	orgID := req.OrganizationID
	if orgID == "" && profile.OrganizationID != nil {
		orgID = *profile.OrganizationID
	}
	if orgID == "" {
		return nil, ErrNoOrganization
	}

	name := req.DeviceName
	if name == "" {
		name = player.Name
	}
	pairedAt := s.now().UTC()
	updated, err := s.store.UpdatePlayer(ctx, player.ID, store.PlayerChanges{
		AccountID:        &req.AccountID,
		OrganizationID:   &orgID,
		PairedAt:         &pairedAt,
		Name:             &name,
		ClearPairingCode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pair player: %w", err)
	}

	err = s.store.AppendAudit(ctx, &model.AuditLog{
		UserID:       profile.ID,
		UserEmail:    profile.Email,
		Action:       model.AuditPlayerPaired,
		ResourceType: "player",
		ResourceID:   updated.ID,
		Details:      fmt.Sprintf("Paired device %s", name),
		Metadata: datatypes.JSONMap{
			"device_uuid":     updated.DeviceUUID,
			"organization_id": orgID,
		},
		CreatedAt: pairedAt,
	})
	if err != nil {
		s.log.Error().Err(err).Str("player_id", updated.ID).Str("organization_id", orgID).Msg("player paired but audit write failed, stores are inconsistent")
	}

	_ = s.relay.Publish(ctx, orgID, relay.EventPairingSuccess, map[string]any{
		"player_id":   updated.ID,
		"device_uuid": updated.DeviceUUID,
		"account_id":  req.AccountID,
	})
	s.pushConfig(ctx, updated)

	s.log.Info().Str("player_id", updated.ID).Str("organization_id", orgID).Msg("player paired")
	return updated, nil
}

// Status reports the pairing state of a device.
func (s *Service) Status(ctx context.Context, deviceUUID string) (*Status, error) {
	p, err := s.store.GetPlayerByDeviceUUID(ctx, deviceUUID)
	if err != nil {
		return nil, err
	}
	if p.Paired() {
		return &Status{
			Paired:     true,
			PlayerID:   p.ID,
			Name:       p.Name,
			AccountID:  p.AccountID,
			PlaylistID: p.PlaylistID,
		}, nil
	}
	return &Status{
		PlayerID:    p.ID,
		PairingCode: p.PairingCode,
		ExpiresAt:   p.PairingCodeExpiresAt,
	}, nil
}

// Unassign removes a player from its organization. The operational clear
// happens first; the audit entry is best-effort.
func (s *Service) Unassign(ctx context.Context, actor Actor, playerID string) (*model.Player, error) {
	player, err := s.store.GetPlayerByID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	orgID := player.OrgID()
	if orgID == "" && !player.Paired() {
		return nil, ErrNotAssigned
	}

	updated, err := s.store.UpdatePlayer(ctx, player.ID, store.PlayerChanges{Unassign: true})
	if err != nil {
		return nil, fmt.Errorf("failed to unassign player: %w", err)
	}

	err = s.store.AppendAudit(ctx, &model.AuditLog{
		UserID:       actor.AccountID,
		UserEmail:    actor.Email,
		Action:       model.AuditPlayerRemoved,
		ResourceType: "player",
		ResourceID:   player.ID,
		Details:      fmt.Sprintf("Removed device %s from organization", player.Name),
		Metadata: datatypes.JSONMap{
			"device_uuid":     player.DeviceUUID,
			"organization_id": orgID,
		},
		CreatedAt: s.now(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("player_id", player.ID).Str("organization_id", orgID).Msg("player unassigned but audit write failed, stores are inconsistent")
	}

	if orgID != "" {
		_ = s.relay.Publish(ctx, orgID, relay.EventPlayerRemoved, map[string]any{
			"player_id":   player.ID,
			"device_uuid": player.DeviceUUID,
		})
	}
	s.pushConfig(ctx, updated)
	return updated, nil
}

func (s *Service) pushConfig(ctx context.Context, p *model.Player) {
	if s.configs == nil {
		return
	}
	if _, err := s.configs.Push(ctx, p); err != nil {
		s.log.Warn().Err(err).Str("device_uuid", p.DeviceUUID).Msg("failed to push config")
	}
}
