package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilitiesFor(t *testing.T) {
	assert.True(t, CapabilitiesFor(RoleODSAdmin).Has(CapImpersonate, CapSettingsWrite, Capability("future:thing")))
	assert.True(t, CapabilitiesFor(RoleODSTech).Has(CapImpersonate))
	assert.False(t, CapabilitiesFor(RoleODSTech).Has(CapSettingsWrite))
	assert.True(t, CapabilitiesFor(RoleOwner).Has(CapSettingsWrite, CapAuditView))
	assert.False(t, CapabilitiesFor(RoleOwner).Has(CapImpersonate))
	assert.False(t, CapabilitiesFor(RoleManager).Has(CapAuditView))
	assert.True(t, CapabilitiesFor(RoleViewer).Has(CapDevicesView))
	assert.False(t, CapabilitiesFor(RoleViewer).Has(CapDevicesView, CapDeploymentsIssue))
	assert.True(t, CapabilitiesFor(RoleIntegrations).Has(CapDeploymentsIssue))
	assert.False(t, CapabilitiesFor(Role("Intern")).Has(CapDevicesView))
	assert.True(t, CapabilitiesFor(Role("Intern")).Has())
}

func TestIssuer(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)
	id := Identity{AccountID: "u1", Email: "tech@ods.example", Role: RoleODSTech, OrganizationID: "ods"}

	token, exp, err := issuer.Mint(id, "session-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, RoleODSTech, claims.AppRole)
	assert.Equal(t, "session-1", claims.ViewAs)

	_, err = NewIssuer("other-secret", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewIssuer("test-secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.Mint(id, "")
	require.NoError(t, err)
	_, err = issuer.Parse(old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Parse("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

type staticOverlays map[string]Overlay

func (s staticOverlays) Overlay(_ context.Context, staffID, token string) (Overlay, bool) {
	o, ok := s[staffID]
	if !ok || o.Token != token {
		return Overlay{}, false
	}
	return o, true
}

func setupAuthRouter(issuer *Issuer, overlays OverlayResolver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", Authenticate(issuer, overlays), func(c *gin.Context) {
		p, _ := FromContext(c)
		c.JSON(http.StatusOK, gin.H{"org": p.EffectiveOrganizationID()})
	})
	r.PATCH("/settings", Authenticate(issuer, overlays), Require(CapSettingsWrite), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestAuthenticate(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)
	overlays := staticOverlays{"staff-1": {Token: "live", OrganizationID: "org-cust", Mode: "tech", OriginalRole: RoleODSTech}}
	router := setupAuthRouter(issuer, overlays)

	staff := Identity{AccountID: "staff-1", Role: RoleODSTech, OrganizationID: "org-ods"}

	do := func(method, path, token string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("missing token", func(t *testing.T) {
		w := do(http.MethodGet, "/whoami", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("own organization without view-as", func(t *testing.T) {
		token, _, _ := issuer.Mint(staff, "")
		w := do(http.MethodGet, "/whoami", token)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"org":"org-ods"}`, w.Body.String())
	})

	t.Run("live view-as session overrides organization", func(t *testing.T) {
		token, _, _ := issuer.Mint(staff, "live")
		w := do(http.MethodGet, "/whoami", token)
		assert.JSONEq(t, `{"org":"org-cust"}`, w.Body.String())
	})

	t.Run("stale view-as token is ignored", func(t *testing.T) {
		token, _, _ := issuer.Mint(staff, "exited-session")
		w := do(http.MethodGet, "/whoami", token)
		assert.JSONEq(t, `{"org":"org-ods"}`, w.Body.String())
	})

	t.Run("token via query parameter", func(t *testing.T) {
		token, _, _ := issuer.Mint(staff, "")
		w := do(http.MethodGet, "/whoami?token="+token, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing capability", func(t *testing.T) {
		token, _, _ := issuer.Mint(staff, "")
		w := do(http.MethodPatch, "/settings", token)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("bypass role holds every capability", func(t *testing.T) {
		token, _, _ := issuer.Mint(Identity{AccountID: "admin", Role: RoleODSAdmin}, "")
		w := do(http.MethodPatch, "/settings", token)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestPrincipal_CanAccessOrg(t *testing.T) {
	admin := &Principal{Identity: Identity{Role: RoleODSAdmin, OrganizationID: "ods"}}
	assert.True(t, admin.CanAccessOrg("any"))
	assert.False(t, admin.CanAccessOrg(""))

	admin.ViewAs = &Overlay{OrganizationID: "org-1"}
	assert.True(t, admin.CanAccessOrg("org-1"))
	assert.False(t, admin.CanAccessOrg("org-2"))

	owner := &Principal{Identity: Identity{Role: RoleOwner, OrganizationID: "org-1"}}
	assert.True(t, owner.CanAccessOrg("org-1"))
	assert.False(t, owner.CanAccessOrg("org-2"))
}
