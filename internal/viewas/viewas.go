// Package viewas lets ODS staff temporarily act inside a customer
// organization. Sessions are time boxed, one per staff account, and every
// entry and exit is written to the audit log.
package viewas

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"signage-control-backend/internal/auth"
	"signage-control-backend/internal/model"
	"signage-control-backend/internal/store"
)

// Mode selects whose view staff assume.
type Mode string

const (
	ModeTech     Mode = "tech"
	ModeCustomer Mode = "customer"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeTech || m == ModeCustomer
}

var (
	ErrForbidden            = errors.New("account may not use view as")
	ErrNotAssigned          = errors.New("technician is not assigned to this organization")
	ErrInvalidMode          = errors.New(`mode must be "tech" or "customer"`)
	ErrMissingOrganization  = errors.New("organization_id is required")
	ErrOrganizationNotFound = errors.New("organization not found")
)

// Session is an active impersonation.
type Session struct {
	Token            string    `json:"-"`
	StaffAccountID   string    `json:"staff_account_id"`
	StaffEmail       string    `json:"staff_email"`
	Mode             Mode      `json:"mode"`
	OrganizationID   string    `json:"organization_id"`
	OrganizationName string    `json:"organization_name"`
	OriginalRole     auth.Role `json:"original_role"`
	StartedAt        time.Time `json:"started_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Store is the persistence the manager needs from both stores.
type Store interface {
	GetProfileByID(ctx context.Context, id string) (*model.Profile, error)
	HasTechAssignment(ctx context.Context, techID, orgID string) (bool, error)
	ListTechAssignments(ctx context.Context, techID string) ([]string, error)
	GetOrganizationByID(ctx context.Context, id string) (*model.Organization, error)
	ListOrganizations(ctx context.Context, ids []string) ([]model.Organization, error)
	AppendAudit(ctx context.Context, entry *model.AuditLog) error
}

// EnterRequest asks to view an organization.
type EnterRequest struct {
	StaffAccountID string
	OrganizationID string
	Mode           Mode
}

// ExitResult tells the caller what to do after leaving.
type ExitResult struct {
	// RefreshToken is always true: the caller must replace any token that
	// still carries the ended session.
	RefreshToken bool
	Previous     *Session
}

// Manager runs impersonation sessions.
type Manager struct {
	store    Store
	sessions SessionStore
	ttl      time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewManager creates a manager whose sessions expire after ttl.
func NewManager(st Store, sessions SessionStore, ttl time.Duration, log zerolog.Logger) *Manager {
	return &Manager{store: st, sessions: sessions, ttl: ttl, log: log, now: time.Now}
}

// Enter starts a session, replacing any the staff member already had. The
// session is not created when its audit entry cannot be written.
func (m *Manager) Enter(ctx context.Context, req EnterRequest) (*Session, error) {
	if !req.Mode.Valid() {
		return nil, ErrInvalidMode
	}
	if req.OrganizationID == "" {
		return nil, ErrMissingOrganization
	}

	profile, err := m.store.GetProfileByID(ctx, req.StaffAccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("failed to look up staff role: %w", err)
	}
	role := auth.Role(profile.Role)
	if !auth.CapabilitiesFor(role).Has(auth.CapImpersonate) {
		return nil, ErrForbidden
	}

	org, err := m.store.GetOrganizationByID(ctx, req.OrganizationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to look up organization: %w", err)
	}

	if role == auth.RoleODSTech {
		ok, err := m.store.HasTechAssignment(ctx, profile.ID, org.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check tech assignment: %w", err)
		}
		if !ok {
			return nil, ErrNotAssigned
		}
	}

	now := m.now()
	s := &Session{
		Token:            uuid.NewString(),
		StaffAccountID:   profile.ID,
		StaffEmail:       profile.Email,
		Mode:             req.Mode,
		OrganizationID:   org.ID,
		OrganizationName: org.Name,
		OriginalRole:     role,
		StartedAt:        now,
		ExpiresAt:        now.Add(m.ttl),
	}

	err = m.store.AppendAudit(ctx, &model.AuditLog{
		UserID:       profile.ID,
		UserEmail:    profile.Email,
		Action:       model.AuditViewAsSwitch,
		ResourceType: "organization",
		ResourceID:   org.ID,
		Details:      fmt.Sprintf("Switched to %s mode for organization: %s", req.Mode, org.Name),
		Metadata: datatypes.JSONMap{
			"mode":              string(req.Mode),
			"organization_id":   org.ID,
			"organization_name": org.Name,
		},
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("view as not started: %w", err)
	}

	if err := m.sessions.Put(ctx, s, m.ttl); err != nil {
		m.log.Error().Err(err).Str("staff_account_id", s.StaffAccountID).Msg("view_as_switch audited but session could not be stored")
		return nil, fmt.Errorf("failed to store view as session: %w", err)
	}

	m.log.Info().Str("staff_account_id", s.StaffAccountID).Str("organization_id", s.OrganizationID).Str("mode", string(s.Mode)).Msg("view as started")
	return s, nil
}

// Exit ends the staff member's session, if any. The exit audit entry is
// best-effort.
func (m *Manager) Exit(ctx context.Context, staffAccountID string) (ExitResult, error) {
	prev, _, err := m.sessions.Delete(ctx, staffAccountID)
	if err != nil {
		return ExitResult{}, fmt.Errorf("failed to end view as session: %w", err)
	}

	entry := &model.AuditLog{
		UserID:       staffAccountID,
		Action:       model.AuditViewAsExit,
		ResourceType: "organization",
		Details:      "Exited View As mode",
		CreatedAt:    m.now(),
	}
	if prev != nil {
		entry.UserEmail = prev.StaffEmail
		entry.ResourceID = prev.OrganizationID
		entry.Metadata = datatypes.JSONMap{"previous_view_as": map[string]any{
			"mode":            string(prev.Mode),
			"organization_id": prev.OrganizationID,
			"original_role":   string(prev.OriginalRole),
		}}
	} else if profile, err := m.store.GetProfileByID(ctx, staffAccountID); err == nil {
		entry.UserEmail = profile.Email
	}
	if err := m.store.AppendAudit(ctx, entry); err != nil {
		m.log.Error().Err(err).Str("staff_account_id", staffAccountID).Msg("failed to audit view_as_exit")
	}

	return ExitResult{RefreshToken: true, Previous: prev}, nil
}

// Current returns the live session of the staff member.
func (m *Manager) Current(ctx context.Context, staffAccountID string) (*Session, bool) {
	s, ok, err := m.sessions.Get(ctx, staffAccountID)
	if err != nil {
		m.log.Warn().Err(err).Str("staff_account_id", staffAccountID).Msg("failed to read view as session")
		return nil, false
	}
	if !ok || !m.now().Before(s.ExpiresAt) {
		return nil, false
	}
	return s, true
}

// Overlay implements auth.OverlayResolver. Only the session the token was
// minted for is honoured.
func (m *Manager) Overlay(ctx context.Context, staffAccountID, token string) (auth.Overlay, bool) {
	s, ok := m.Current(ctx, staffAccountID)
	if !ok || s.Token != token {
		return auth.Overlay{}, false
	}
	return auth.Overlay{
		Token:          s.Token,
		Mode:           string(s.Mode),
		OrganizationID: s.OrganizationID,
		OriginalRole:   s.OriginalRole,
	}, true
}

// Available lists the organizations the staff member may view.
func (m *Manager) Available(ctx context.Context, staffAccountID string) ([]model.Organization, error) {
	profile, err := m.store.GetProfileByID(ctx, staffAccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	switch auth.Role(profile.Role) {
	case auth.RoleODSAdmin:
		return m.store.ListOrganizations(ctx, nil)
	case auth.RoleODSTech:
		ids, err := m.store.ListTechAssignments(ctx, profile.ID)
		if err != nil {
			return nil, err
		}
		return m.store.ListOrganizations(ctx, ids)
	default:
		return nil, ErrForbidden
	}
}
