package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signage-control-backend/internal/auth"
	"signage-control-backend/internal/relay"
)

// DashboardHandler serves GET /ws/dashboard. It must run behind
// auth.Authenticate.
type DashboardHandler struct {
	hub      *relay.Hub
	overlays auth.OverlayResolver
	upgrader websocket.Upgrader
	opts     Options
	log      zerolog.Logger
}

// NewDashboardHandler creates the dashboard endpoint. Streams opened while
// viewing as an organization are checked against overlays and end with the
// impersonation session.
func NewDashboardHandler(hub *relay.Hub, overlays auth.OverlayResolver, opts Options, log zerolog.Logger) *DashboardHandler {
	opts.applyDefaults()
	return &DashboardHandler{
		hub:      hub,
		overlays: overlays,
		upgrader: newUpgrader(opts.AllowedOrigins),
		opts:     opts,
		log:      log,
	}
}

// Serve streams the principal's organization events until either side
// closes.
func (h *DashboardHandler) Serve(c *gin.Context) {
	p, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	orgID := p.EffectiveOrganizationID()
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No organization selected"})
		return
	}

	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote_addr", c.Request.RemoteAddr).Msg("dashboard upgrade failed")
		return
	}
	wsConn.SetReadLimit(h.opts.ReadLimit)
	conn := newConn(wsConn, h.opts.WriteWait)
	defer conn.Close()

	sub := h.hub.Subscribe(orgID)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	// Dashboards only send control frames; reading drives pong handling
	// and notices the close.
	readWait := 2 * h.opts.PingInterval
	_ = wsConn.SetReadDeadline(time.Now().Add(readWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(readWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := wsConn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := h.log.With().Str("account_id", p.AccountID).Str("organization_id", orgID).Logger()
	log.Debug().Msg("dashboard subscribed")

	viewing := func() bool {
		if p.ViewAs == nil {
			return true
		}
		if h.overlays == nil {
			return false
		}
		o, ok := h.overlays.Overlay(ctx, p.AccountID, p.ViewAs.Token)
		return ok && o.OrganizationID == orgID
	}

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("dashboard disconnected")
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if !viewing() {
				log.Info().Msg("view as session ended, closing dashboard stream")
				return
			}
			if err := conn.Send(msg.Event, msg.Data); err != nil {
				log.Debug().Err(err).Msg("dashboard write failed")
				return
			}
		case <-ticker.C:
			if !viewing() {
				log.Info().Msg("view as session ended, closing dashboard stream")
				return
			}
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}
