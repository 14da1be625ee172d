package internal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signage-control-backend/config"
	"signage-control-backend/internal/deploy"
	"signage-control-backend/internal/devconfig"
	"signage-control-backend/internal/model"
	"signage-control-backend/internal/notification"
	"signage-control-backend/internal/pairing"
	"signage-control-backend/internal/registry"
	"signage-control-backend/internal/relay"
	"signage-control-backend/internal/session"
	"signage-control-backend/internal/store/storetest"
	"signage-control-backend/internal/telemetry"
	"signage-control-backend/internal/ws"
)

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []notification.Job
}

func (r *recordingNotifier) Dispatch(job notification.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func (r *recordingNotifier) snapshot() []notification.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Job(nil), r.jobs...)
}

// TestPairConnectDeployTimeout walks a device from first contact through
// pairing, connection and an unacknowledged deployment.
func TestPairConnectDeployTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	log := zerolog.Nop()
	ackTimeout := time.Minute

	// 1. Setup
	gw, gdb := storetest.Gateway(t)
	org := "org-1"
	require.NoError(t, gdb.Create(&model.Organization{ID: org, Name: "Acme"}).Error)
	require.NoError(t, gdb.Create(&model.Profile{ID: "acct-1", Email: "owner@acme.test", Role: "Owner", OrganizationID: &org}).Error)

	cfg := config.Config{}
	cfg.ApplyDefaults()

	reg := registry.New()
	hub := relay.NewHub(64, log)
	notifier := &recordingNotifier{}
	sessions := session.NewManager(reg, gw, hub, time.Minute, log)
	coord := deploy.NewCoordinator(reg, gw, hub, notifier, ackTimeout, time.Hour, log)
	collector := telemetry.NewCollector(reg, gw, time.Minute, log)
	builder := devconfig.NewBuilder(gw, cfg.Device, log)
	pairer := pairing.NewService(gw, hub, devconfig.NewPusher(builder, reg), cfg.Device.APIURL, log)

	sub := hub.Subscribe(org)
	defer sub.Close()

	r := gin.New()
	opts := ws.Options{HandshakeTimeout: time.Second, HeartbeatInterval: cfg.Device.HeartbeatIntervalSeconds}
	r.GET("/ws/device", ws.NewDeviceHandler(sessions, coord, collector, builder, opts, log).Serve)
	srv := httptest.NewServer(r)
	defer srv.Close()

	// 2. Pair
	code, err := pairer.Generate(ctx, "cpu-1", "dev-1")
	require.NoError(t, err)
	player, err := pairer.Verify(ctx, pairing.VerifyRequest{Code: strings.ToLower(code.PairingCode), AccountID: "acct-1", DeviceName: "Lobby"})
	require.NoError(t, err)
	require.NotNil(t, player.OrganizationID)
	assert.Equal(t, org, *player.OrganizationID)

	// 3. Connect
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/device", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": ws.EventRegister, "data": map[string]string{"device_uuid": "dev-1"}}))

	readEnvelope := func() ws.Envelope {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var env ws.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		return env
	}
	assert.Equal(t, ws.EventRegistered, readEnvelope().Event)
	assert.Equal(t, devconfig.EventConfig, readEnvelope().Event)
	require.Eventually(t, func() bool {
		_, ok := reg.Lookup("dev-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// 4. Deploy without acknowledging
	depID, err := coord.IssueDeployment(ctx, deploy.IssueRequest{
		OrganizationID: org,
		IssuedBy:       "acct-1",
		DeviceUUIDs:    []string{"dev-1"},
		PayloadRef:     "playlist:7",
	})
	require.NoError(t, err)

	push := readEnvelope()
	require.Equal(t, deploy.EventDeploy, push.Event)
	var p deploy.Push
	require.NoError(t, json.Unmarshal(push.Data, &p))
	assert.Equal(t, depID, p.DeploymentID)

	// 5. Sweep past the deadline
	expired := coord.Sweep(ctx, time.Now().Add(2*ackTimeout))
	require.Len(t, expired, 1)
	assert.Equal(t, "dev-1", expired[0].DeviceUUID)
	assert.Equal(t, player.ID, expired[0].PlayerID)

	d, err := coord.Get(ctx, depID)
	require.NoError(t, err)
	require.Len(t, d.Targets, 1)
	assert.Equal(t, model.AckTimedOut, d.Targets[0].State)
	assert.NotNil(t, d.Targets[0].TimedOutAt)

	// A late ack changes nothing.
	assert.False(t, coord.RecordAck(ctx, "dev-1", depID))

	jobs := notifier.snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, notification.Job{OrganizationID: org, DeploymentID: depID, DeviceUUID: "dev-1", PlayerID: player.ID}, jobs[0])

	// 6. Dashboard events arrive in order
	var seen []string
	deadline := time.After(2 * time.Second)
	for len(seen) == 0 || seen[len(seen)-1] != relay.EventDeployTimeout {
		select {
		case msg := <-sub.C:
			seen = append(seen, msg.Event)
		case <-deadline:
			t.Fatalf("deploy:timeout not relayed, saw %v", seen)
		}
	}
	assert.Equal(t, relay.EventPairingSuccess, seen[0])
	assert.Contains(t, seen, relay.EventPlayerStatus)
}
