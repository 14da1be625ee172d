// Package ws carries the device and dashboard protocols over websockets.
package ws

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Inbound and outbound frame names.
const (
	EventRegister   = "register"
	EventRegistered = "registered"
	EventHeartbeat  = "heartbeat"
	EventSyncStatus = "sync_status"
	EventPageChange = "page_change"
	EventDeployAck  = "deploy:ack"
	EventError      = "error"
)

var (
	errClosed    = errors.New("connection closed")
	errMalformed = errors.New("malformed frame")
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Conn is a websocket with serialized writes. It implements
// registry.Transport.
type Conn struct {
	ws        *websocket.Conn
	writeWait time.Duration

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func newConn(ws *websocket.Conn, writeWait time.Duration) *Conn {
	return &Conn{ws: ws, writeWait: writeWait}
}

// Send writes one frame.
func (c *Conn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.ws.WriteJSON(outbound{Event: event, Data: payload})
}

// Ping writes a ping control frame.
func (c *Conn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// Close sends a close frame and closes the socket. Subsequent sends fail.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) sendError(message string) {
	_ = c.Send(EventError, map[string]string{"message": message})
}

func readEnvelope(ws *websocket.Conn) (Envelope, error) {
	var env Envelope
	_, data, err := ws.ReadMessage()
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, errMalformed
	}
	return env, nil
}

func isExpectedClose(err error) bool {
	return errors.Is(err, net.ErrClosed) || websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

// newUpgrader accepts requests without an Origin header (devices) and
// browser requests from an allowed origin. An empty list or "*" allows all.
func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			for _, a := range allowed {
				if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
					return true
				}
			}
			return false
		},
	}
}
