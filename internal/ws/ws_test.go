package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signage-control-backend/config"
	"signage-control-backend/internal/auth"
	"signage-control-backend/internal/deploy"
	"signage-control-backend/internal/devconfig"
	"signage-control-backend/internal/model"
	"signage-control-backend/internal/registry"
	"signage-control-backend/internal/relay"
	"signage-control-backend/internal/session"
	"signage-control-backend/internal/store"
	"signage-control-backend/internal/store/storetest"
	"signage-control-backend/internal/telemetry"
	"signage-control-backend/internal/viewas"
)

type harness struct {
	srv      *httptest.Server
	gw       *store.Gateway
	registry *registry.Registry
	hub      *relay.Hub
	coord    *deploy.Coordinator
	issuer   *auth.Issuer
	viewAs   *viewas.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()

	gw, gdb := storetest.Gateway(t)
	org := "org-1"
	require.NoError(t, gdb.Create(&[]model.Organization{{ID: org, Name: "Acme"}, {ID: "org-2", Name: "Globex"}}).Error)
	require.NoError(t, gdb.Create(&model.Profile{ID: "admin", Email: "admin@ods.test", Role: string(auth.RoleODSAdmin)}).Error)
	require.NoError(t, gw.CreatePlayer(context.Background(), &model.Player{
		ID: "p1", DeviceUUID: "dev-1", Name: "Lobby", OrganizationID: &org, Status: model.StatusOffline,
	}))

	cfg := config.Config{}
	cfg.ApplyDefaults()

	reg := registry.New()
	hub := relay.NewHub(16, log)
	sessions := session.NewManager(reg, gw, hub, time.Minute, log)
	coord := deploy.NewCoordinator(reg, gw, hub, nil, time.Minute, time.Second, log)
	collector := telemetry.NewCollector(reg, gw, time.Minute, log)
	builder := devconfig.NewBuilder(gw, cfg.Device, log)
	issuer := auth.NewIssuer("test-secret", time.Hour)
	viewAs := viewas.NewManager(gw, viewas.NewMemoryStore(), time.Hour, log)

	opts := Options{HandshakeTimeout: time.Second, HeartbeatInterval: cfg.Device.HeartbeatIntervalSeconds}
	r := gin.New()
	r.GET("/ws/device", NewDeviceHandler(sessions, coord, collector, builder, opts, log).Serve)
	r.GET("/ws/dashboard", auth.Authenticate(issuer, viewAs), NewDashboardHandler(hub, viewAs, opts, log).Serve)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &harness{srv: srv, gw: gw, registry: reg, hub: hub, coord: coord, issuer: issuer, viewAs: viewAs}
}

func (h *harness) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + path
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(map[string]any{"event": event, "data": data}))
}

func read(t *testing.T, c *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env Envelope
	require.NoError(t, c.ReadJSON(&env))
	return env
}

func (h *harness) registerDevice(t *testing.T, deviceUUID string) *websocket.Conn {
	t.Helper()
	c := h.dial(t, "/ws/device")
	send(t, c, EventRegister, map[string]string{"device_uuid": deviceUUID})
	assert.Equal(t, EventRegistered, read(t, c).Event)

	cfg := read(t, c)
	require.Equal(t, devconfig.EventConfig, cfg.Event)
	var payload devconfig.Payload
	require.NoError(t, json.Unmarshal(cfg.Data, &payload))
	assert.Equal(t, "p1", payload.PlayerID)
	assert.Equal(t, 1, payload.OfflineBorder.Width)
	return c
}

func TestDevice_DeployAckReachesDashboard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	device := h.registerDevice(t, "dev-1")
	require.Eventually(t, func() bool {
		_, ok := h.registry.Lookup("dev-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	token, _, err := h.issuer.Mint(auth.Identity{AccountID: "u1", Role: auth.RoleOwner, OrganizationID: "org-1"}, "")
	require.NoError(t, err)
	dashboard := h.dial(t, "/ws/dashboard?token="+token)
	require.Eventually(t, func() bool { return h.hub.Subscribers("org-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	depID, err := h.coord.IssueDeployment(ctx, deploy.IssueRequest{
		OrganizationID: "org-1",
		IssuedBy:       "u1",
		DeviceUUIDs:    []string{"dev-1"},
		PayloadRef:     "playlist:42",
	})
	require.NoError(t, err)

	push := read(t, device)
	require.Equal(t, deploy.EventDeploy, push.Event)
	var p deploy.Push
	require.NoError(t, json.Unmarshal(push.Data, &p))
	assert.Equal(t, depID, p.DeploymentID)
	assert.Equal(t, "playlist:42", p.PayloadRef)

	send(t, device, EventDeployAck, map[string]string{"deploymentId": depID})

	ev := read(t, dashboard)
	assert.Equal(t, relay.EventDeployAck, ev.Event)
	var body map[string]any
	require.NoError(t, json.Unmarshal(ev.Data, &body))
	assert.Equal(t, depID, body["deployment_id"])

	d, err := h.gw.GetDeployment(ctx, depID)
	require.NoError(t, err)
	require.Len(t, d.Targets, 1)
	assert.Equal(t, model.AckAcked, d.Targets[0].State)

	// a duplicate ack changes nothing
	send(t, device, EventDeployAck, map[string]string{"deployment_id": depID})
	send(t, device, EventHeartbeat, nil)
	assert.Equal(t, 0, h.coord.Pending())
}

func TestDevice_SyncStatus(t *testing.T) {
	h := newHarness(t)
	device := h.registerDevice(t, "dev-1")

	send(t, device, EventSyncStatus, map[string]any{"downloaded": 7, "current_page": "menu"})
	require.Eventually(t, func() bool {
		rep, err := h.gw.GetSyncReport(context.Background(), "p1")
		return err == nil && rep.CacheAssetCount == 7 && rep.CurrentPage == "menu"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDevice_UnknownDeviceIsRejected(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, "/ws/device")
	send(t, c, EventRegister, map[string]string{"device_uuid": "ghost"})

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := c.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, h.registry.Len())

	p, err := h.gw.GetPlayerByDeviceUUID(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, p.Status)
}

func TestDevice_FirstFrameMustBeRegister(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, "/ws/device")
	send(t, c, EventHeartbeat, nil)

	env := read(t, c)
	assert.Equal(t, EventError, env.Event)
	assert.Equal(t, 0, h.registry.Len())
}

func TestDevice_DisconnectMarksOffline(t *testing.T) {
	h := newHarness(t)
	device := h.registerDevice(t, "dev-1")

	p, err := h.gw.GetPlayerByDeviceUUID(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnline, p.Status)

	require.NoError(t, device.Close())
	require.Eventually(t, func() bool {
		p, err := h.gw.GetPlayerByDeviceUUID(context.Background(), "dev-1")
		return err == nil && p.Status == model.StatusOffline && h.registry.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDashboard_RequiresOrganization(t *testing.T) {
	h := newHarness(t)
	token, _, err := h.issuer.Mint(auth.Identity{AccountID: "admin", Role: auth.RoleODSAdmin}, "")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/dashboard?token=" + token
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// viewAsDashboard opens a dashboard stream as the admin viewing org-1.
func (h *harness) viewAsDashboard(t *testing.T) *websocket.Conn {
	t.Helper()
	s, err := h.viewAs.Enter(context.Background(), viewas.EnterRequest{
		StaffAccountID: "admin", OrganizationID: "org-1", Mode: viewas.ModeCustomer,
	})
	require.NoError(t, err)
	token, _, err := h.issuer.Mint(auth.Identity{AccountID: "admin", Role: auth.RoleODSAdmin}, s.Token)
	require.NoError(t, err)

	c := h.dial(t, "/ws/dashboard?token="+token)
	require.Eventually(t, func() bool { return h.hub.Subscribers("org-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.hub.Publish(context.Background(), "org-1", relay.EventPlayerStatus, map[string]string{"status": "online"}))
	assert.Equal(t, relay.EventPlayerStatus, read(t, c).Event)
	return c
}

func assertStreamClosed(t *testing.T, h *harness, c *websocket.Conn) {
	t.Helper()
	require.NoError(t, h.hub.Publish(context.Background(), "org-1", relay.EventDeployAck, map[string]string{"device_uuid": "dev-1"}))

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := c.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	require.Eventually(t, func() bool { return h.hub.Subscribers("org-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDashboard_ExitViewAsClosesStream(t *testing.T) {
	h := newHarness(t)
	c := h.viewAsDashboard(t)

	_, err := h.viewAs.Exit(context.Background(), "admin")
	require.NoError(t, err)

	assertStreamClosed(t, h, c)
}

func TestDashboard_SwitchingOrganizationClosesStream(t *testing.T) {
	h := newHarness(t)
	c := h.viewAsDashboard(t)

	_, err := h.viewAs.Enter(context.Background(), viewas.EnterRequest{
		StaffAccountID: "admin", OrganizationID: "org-2", Mode: viewas.ModeCustomer,
	})
	require.NoError(t, err)

	assertStreamClosed(t, h, c)
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	up := newUpgrader([]string{"https://dash.example.com"})
	req := httptest.NewRequest(http.MethodGet, "/ws/device", nil)
	assert.True(t, up.CheckOrigin(req), "devices send no origin")

	req.Header.Set("Origin", "https://dash.example.com")
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, up.CheckOrigin(req))
}
