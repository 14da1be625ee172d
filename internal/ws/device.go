package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signage-control-backend/internal/devconfig"
	"signage-control-backend/internal/model"
	"signage-control-backend/internal/session"
	"signage-control-backend/internal/telemetry"
)

// AckRecorder settles deployment acknowledgments.
type AckRecorder interface {
	RecordAck(ctx context.Context, deviceUUID, deploymentID string) bool
}

// Telemetry records device reports.
type Telemetry interface {
	RecordSyncStatus(ctx context.Context, deviceUUID string, s telemetry.SyncStatus) error
	RecordPageChange(ctx context.Context, deviceUUID, page string) error
}

// ConfigBuilder builds the config frame sent after registration.
type ConfigBuilder interface {
	Build(ctx context.Context, player *model.Player) (*devconfig.Payload, error)
}

// Options tune the websocket endpoints.
type Options struct {
	AllowedOrigins    []string
	HandshakeTimeout  time.Duration
	WriteWait         time.Duration
	PingInterval      time.Duration
	ReadLimit         int64
	HeartbeatInterval int
}

func (o *Options) applyDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
}

// DeviceHandler serves GET /ws/device.
type DeviceHandler struct {
	sessions *session.Manager
	acks     AckRecorder
	reports  Telemetry
	configs  ConfigBuilder
	upgrader websocket.Upgrader
	opts     Options
	log      zerolog.Logger
}

// NewDeviceHandler creates the device endpoint.
func NewDeviceHandler(sessions *session.Manager, acks AckRecorder, reports Telemetry, configs ConfigBuilder, opts Options, log zerolog.Logger) *DeviceHandler {
	opts.applyDefaults()
	return &DeviceHandler{
		sessions: sessions,
		acks:     acks,
		reports:  reports,
		configs:  configs,
		upgrader: newUpgrader(opts.AllowedOrigins),
		opts:     opts,
		log:      log,
	}
}

type registerData struct {
	DeviceUUID      string `json:"device_uuid"`
	DeviceUUIDCamel string `json:"deviceUuid"`
}

type ackData struct {
	DeploymentID      string `json:"deployment_id"`
	DeploymentIDCamel string `json:"deploymentId"`
}

type pageData struct {
	Page string `json:"page"`
}

// Serve upgrades the request and runs the connection until it closes.
func (h *DeviceHandler) Serve(c *gin.Context) {
	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote_addr", c.Request.RemoteAddr).Msg("device upgrade failed")
		return
	}
	wsConn.SetReadLimit(h.opts.ReadLimit)
	conn := newConn(wsConn, h.opts.WriteWait)

	// Cancelling ctx abandons this device's in-flight report handling only.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	s := h.sessions.Open(conn)
	reason := "connection closed"
	defer func() { h.sessions.Close(ctx, s, reason) }()

	_ = wsConn.SetReadDeadline(time.Now().Add(h.opts.HandshakeTimeout))
	env, err := readEnvelope(wsConn)
	if err != nil {
		reason = "no register frame"
		h.log.Debug().Err(err).Str("remote_addr", c.Request.RemoteAddr).Msg("device handshake failed")
		return
	}
	if env.Event != EventRegister {
		reason = "first frame was not register"
		conn.sendError("first event must be register")
		return
	}
	var reg registerData
	_ = json.Unmarshal(env.Data, &reg)
	deviceUUID := reg.DeviceUUID
	if deviceUUID == "" {
		deviceUUID = reg.DeviceUUIDCamel
	}

	player, err := h.sessions.Identify(ctx, s, deviceUUID)
	if err != nil {
		reason = "identification rejected"
		h.log.Info().Str("device_uuid", deviceUUID).Str("remote_addr", c.Request.RemoteAddr).Msg("rejected unknown device")
		return
	}
	// Liveness is the session watchdog's job from here on.
	_ = wsConn.SetReadDeadline(time.Time{})

	_ = conn.Send(EventRegistered, gin.H{
		"player_id":                  player.ID,
		"device_uuid":                player.DeviceUUID,
		"heartbeat_interval_seconds": h.opts.HeartbeatInterval,
	})
	if payload, err := h.configs.Build(ctx, player); err != nil {
		h.log.Error().Err(err).Str("device_uuid", deviceUUID).Msg("failed to build config")
	} else if err := conn.Send(devconfig.EventConfig, payload); err != nil {
		h.log.Warn().Err(err).Str("device_uuid", deviceUUID).Msg("failed to send config")
	}

	for {
		env, err := readEnvelope(wsConn)
		if errors.Is(err, errMalformed) {
			conn.sendError("malformed frame")
			continue
		}
		if err != nil {
			if !isExpectedClose(err) {
				h.log.Debug().Err(err).Str("device_uuid", deviceUUID).Msg("device read failed")
			}
			return
		}
		h.dispatch(ctx, s, conn, deviceUUID, env)
	}
}

func (h *DeviceHandler) dispatch(ctx context.Context, s *session.Session, conn *Conn, deviceUUID string, env Envelope) {
	log := h.log.With().Str("device_uuid", deviceUUID).Str("event", env.Event).Logger()

	switch env.Event {
	case EventHeartbeat:
		if err := h.sessions.Heartbeat(ctx, s); err != nil {
			log.Debug().Err(err).Msg("heartbeat ignored")
		}

	case EventSyncStatus:
		var st telemetry.SyncStatus
		if err := json.Unmarshal(env.Data, &st); err != nil {
			conn.sendError("invalid sync_status payload")
			return
		}
		if err := h.reports.RecordSyncStatus(ctx, deviceUUID, st); err != nil {
			log.Error().Err(err).Msg("failed to record sync status")
		}

	case EventPageChange:
		var pg pageData
		if err := json.Unmarshal(env.Data, &pg); err != nil {
			conn.sendError("invalid page_change payload")
			return
		}
		if err := h.reports.RecordPageChange(ctx, deviceUUID, pg.Page); err != nil {
			log.Error().Err(err).Msg("failed to record page change")
		}

	case EventDeployAck:
		var ack ackData
		_ = json.Unmarshal(env.Data, &ack)
		id := ack.DeploymentIDCamel
		if id == "" {
			id = ack.DeploymentID
		}
		if id == "" {
			conn.sendError("deploy:ack requires deploymentId")
			return
		}
		if !h.acks.RecordAck(ctx, deviceUUID, id) {
			log.Debug().Str("deployment_id", id).Msg("ack for unknown or settled deployment dropped")
		}

	case EventRegister:
		conn.sendError("already registered")

	default:
		log.Debug().Msg("unknown event ignored")
	}
}
