package viewas

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"signage-control-backend/internal/auth"
	"signage-control-backend/internal/model"
	"signage-control-backend/internal/store"
	"signage-control-backend/internal/store/storetest"
)

type fixture struct {
	gw  *store.Gateway
	gdb *gorm.DB
	mgr *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw, gdb := storetest.Gateway(t)

	require.NoError(t, gdb.Create(&[]model.Organization{
		{ID: "org-1", Name: "Acme"},
		{ID: "org-2", Name: "Globex"},
		{ID: "org-3", Name: "Initech"},
	}).Error)
	require.NoError(t, gdb.Create(&[]model.Profile{
		{ID: "admin", Email: "admin@ods.test", Role: string(auth.RoleODSAdmin)},
		{ID: "tech", Email: "tech@ods.test", Role: string(auth.RoleODSTech)},
		{ID: "owner", Email: "owner@acme.test", Role: string(auth.RoleOwner)},
	}).Error)
	require.NoError(t, gw.AssignTech(context.Background(), "tech", "org-2"))

	return &fixture{
		gw:  gw,
		gdb: gdb,
		mgr: NewManager(gw, NewMemoryStore(), time.Hour, zerolog.Nop()),
	}
}

func (f *fixture) audits(t *testing.T, action string) []model.AuditLog {
	t.Helper()
	var out []model.AuditLog
	require.NoError(t, f.gdb.Where("action = ?", action).Order("id").Find(&out).Error)
	return out
}

func TestManager_EnterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  EnterRequest
		want error
	}{
		{"bad mode", EnterRequest{StaffAccountID: "admin", OrganizationID: "org-1", Mode: "ghost"}, ErrInvalidMode},
		{"missing org", EnterRequest{StaffAccountID: "admin", Mode: ModeTech}, ErrMissingOrganization},
		{"unknown account", EnterRequest{StaffAccountID: "nobody", OrganizationID: "org-1", Mode: ModeTech}, ErrForbidden},
		{"customer role", EnterRequest{StaffAccountID: "owner", OrganizationID: "org-1", Mode: ModeTech}, ErrForbidden},
		{"unknown org", EnterRequest{StaffAccountID: "admin", OrganizationID: "org-9", Mode: ModeTech}, ErrOrganizationNotFound},
		{"tech not assigned", EnterRequest{StaffAccountID: "tech", OrganizationID: "org-1", Mode: ModeCustomer}, ErrNotAssigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.Enter(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, f.audits(t, model.AuditViewAsSwitch))
}

func TestManager_EnterReplacesThenExit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.mgr.Enter(ctx, EnterRequest{StaffAccountID: "admin", OrganizationID: "org-1", Mode: ModeTech})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleODSAdmin, first.OriginalRole)
	assert.Equal(t, "Acme", first.OrganizationName)

	second, err := f.mgr.Enter(ctx, EnterRequest{StaffAccountID: "admin", OrganizationID: "org-2", Mode: ModeCustomer})
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	cur, ok := f.mgr.Current(ctx, "admin")
	require.True(t, ok)
	assert.Equal(t, "org-2", cur.OrganizationID)

	_, ok = f.mgr.Overlay(ctx, "admin", first.Token)
	assert.False(t, ok, "replaced session token must not resolve")
	ov, ok := f.mgr.Overlay(ctx, "admin", second.Token)
	require.True(t, ok)
	assert.Equal(t, "org-2", ov.OrganizationID)
	assert.Equal(t, "customer", ov.Mode)

	switches := f.audits(t, model.AuditViewAsSwitch)
	require.Len(t, switches, 2)
	assert.Equal(t, "Switched to customer mode for organization: Globex", switches[1].Details)
	assert.Equal(t, "org-2", switches[1].ResourceID)

	res, err := f.mgr.Exit(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, res.RefreshToken)
	require.NotNil(t, res.Previous)
	assert.Equal(t, "org-2", res.Previous.OrganizationID)

	_, ok = f.mgr.Current(ctx, "admin")
	assert.False(t, ok)

	exits := f.audits(t, model.AuditViewAsExit)
	require.Len(t, exits, 1)
	assert.Equal(t, "admin@ods.test", exits[0].UserEmail)
	assert.Equal(t, "org-2", exits[0].ResourceID)
}

func TestManager_ExitWithoutSession(t *testing.T) {
	f := newFixture(t)

	res, err := f.mgr.Exit(context.Background(), "tech")
	require.NoError(t, err)
	assert.True(t, res.RefreshToken)
	assert.Nil(t, res.Previous)

	exits := f.audits(t, model.AuditViewAsExit)
	require.Len(t, exits, 1)
	assert.Equal(t, "tech@ods.test", exits[0].UserEmail)
}

func TestManager_TechAssignedOrg(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Enter(context.Background(), EnterRequest{StaffAccountID: "tech", OrganizationID: "org-2", Mode: ModeTech})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleODSTech, s.OriginalRole)
}

func TestManager_SessionExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.mgr.now = func() time.Time { return now }

	s, err := f.mgr.Enter(ctx, EnterRequest{StaffAccountID: "admin", OrganizationID: "org-1", Mode: ModeTech})
	require.NoError(t, err)

	f.mgr.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, ok := f.mgr.Overlay(ctx, "admin", s.Token)
	assert.False(t, ok)
}

type failingAudit struct {
	*store.Gateway
}

func (failingAudit) AppendAudit(context.Context, *model.AuditLog) error {
	return errors.New("identity store unavailable")
}

func TestManager_AuditFailureAbortsEnter(t *testing.T) {
	f := newFixture(t)
	mgr := NewManager(failingAudit{f.gw}, NewMemoryStore(), time.Hour, zerolog.Nop())
	ctx := context.Background()

	_, err := mgr.Enter(ctx, EnterRequest{StaffAccountID: "admin", OrganizationID: "org-1", Mode: ModeTech})
	require.Error(t, err)
	_, ok := mgr.Current(ctx, "admin")
	assert.False(t, ok)

	// exit still succeeds when the audit cannot be written
	res, err := mgr.Exit(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, res.RefreshToken)
}

func TestManager_Available(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	all, err := f.mgr.Available(ctx, "admin")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assigned, err := f.mgr.Available(ctx, "tech")
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, "org-2", assigned[0].ID)

	_, err = f.mgr.Available(ctx, "owner")
	assert.ErrorIs(t, err, ErrForbidden)
}
