// Package deploy issues deployments to connected players and tracks every
// target through queued, pushed, acked and timed_out.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signage-control-backend/internal/model"
	"signage-control-backend/internal/notification"
	"signage-control-backend/internal/registry"
	"signage-control-backend/internal/relay"
	"signage-control-backend/internal/store"
)

// EventDeploy is the outbound frame carrying a deployment to a device.
const EventDeploy = "deploy"

var (
	ErrNoTargets     = errors.New("deployment has no targets")
	ErrNoPayload     = errors.New("deployment has no payload_ref")
	ErrUnknownTarget = errors.New("unknown target device")
	ErrForeignTarget = errors.New("target device belongs to another organization")
)

// Store is the persistence the coordinator needs.
type Store interface {
	ListPlayersByDeviceUUIDs(ctx context.Context, uuids []string) ([]model.Player, error)
	CreateDeployment(ctx context.Context, d *model.Deployment) error
	GetDeployment(ctx context.Context, id string) (*model.Deployment, error)
	AdvanceDeploymentTarget(ctx context.Context, deploymentID, deviceUUID string, to model.AckState, at time.Time) (bool, error)
	ListPendingTargets(ctx context.Context) ([]store.PendingTarget, error)
	StampDeployAck(ctx context.Context, deviceUUID string, at time.Time) error
}

// Notifier receives delivery failures.
type Notifier interface {
	Dispatch(job notification.Job)
}

// IssueRequest asks for a payload to be pushed to a set of devices of one
// organization.
type IssueRequest struct {
	OrganizationID string
	IssuedBy       string
	DeviceUUIDs    []string
	PayloadRef     string
}

// Push is the payload of the deploy frame.
type Push struct {
	DeploymentID string    `json:"deployment_id"`
	PayloadRef   string    `json:"payload_ref"`
	IssuedAt     time.Time `json:"issued_at"`
}

// Expired describes a target that hit its ack deadline.
type Expired struct {
	DeploymentID   string
	DeviceUUID     string
	PlayerID       string
	OrganizationID string
	PushedAt       time.Time
}

type targetKey struct {
	deploymentID string
	deviceUUID   string
}

type pendingAck struct {
	organizationID string
	playerID       string
	pushedAt       time.Time
	deadline       time.Time
}

// Coordinator owns the table of pushed targets awaiting an ack. Removing an
// entry from the table is what entitles a caller to settle the target, so
// every target is acked or timed out at most once.
type Coordinator struct {
	mu      sync.Mutex
	pending map[targetKey]pendingAck

	registry *registry.Registry
	store    Store
	relay    relay.Publisher
	notifier Notifier

	ackTimeout    time.Duration
	sweepInterval time.Duration
	log           zerolog.Logger
	now           func() time.Time
}

// NewCoordinator creates a coordinator. notifier may be nil.
func NewCoordinator(reg *registry.Registry, st Store, pub relay.Publisher, notifier Notifier, ackTimeout, sweepInterval time.Duration, log zerolog.Logger) *Coordinator {
	if pub == nil {
		pub = relay.Nop{}
	}
	return &Coordinator{
		pending:       make(map[targetKey]pendingAck),
		registry:      reg,
		store:         st,
		relay:         pub,
		notifier:      notifier,
		ackTimeout:    ackTimeout,
		sweepInterval: sweepInterval,
		log:           log,
		now:           time.Now,
	}
}

// IssueDeployment records a deployment with every target queued and pushes
// it to the targets that are connected right now. Targets that are offline
// or whose send fails stay queued; re-issuing is up to the caller.
func (c *Coordinator) IssueDeployment(ctx context.Context, req IssueRequest) (string, error) {
	if req.PayloadRef == "" {
		return "", ErrNoPayload
	}
	uuids := dedupe(req.DeviceUUIDs)
	if len(uuids) == 0 {
		return "", ErrNoTargets
	}

	players, err := c.store.ListPlayersByDeviceUUIDs(ctx, uuids)
	if err != nil {
		return "", fmt.Errorf("failed to resolve targets: %w", err)
	}
	byUUID := make(map[string]model.Player, len(players))
	for _, p := range players {
		byUUID[p.DeviceUUID] = p
	}

	issuedAt := c.now()
	d := &model.Deployment{
		ID:             uuid.NewString(),
		OrganizationID: req.OrganizationID,
		IssuedBy:       req.IssuedBy,
		PayloadRef:     req.PayloadRef,
		IssuedAt:       issuedAt,
	}
	for _, u := range uuids {
		p, ok := byUUID[u]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownTarget, u)
		}
		if p.OrgID() != req.OrganizationID {
			return "", fmt.Errorf("%w: %s", ErrForeignTarget, u)
		}
		d.Targets = append(d.Targets, model.DeploymentTarget{
			DeploymentID: d.ID,
			DeviceUUID:   u,
			PlayerID:     p.ID,
			State:        model.AckQueued,
			UpdatedAt:    issuedAt,
		})
	}

	if err := c.store.CreateDeployment(ctx, d); err != nil {
		return "", err
	}

	push := Push{DeploymentID: d.ID, PayloadRef: d.PayloadRef, IssuedAt: issuedAt}
	persistCtx := context.WithoutCancel(ctx)
	var pushed int
	for _, t := range d.Targets {
		if c.push(persistCtx, d.OrganizationID, t, push) {
			pushed++
		}
	}

	c.log.Info().
		Str("deployment_id", d.ID).
		Str("organization_id", d.OrganizationID).
		Int("targets", len(d.Targets)).
		Int("pushed", pushed).
		Msg("deployment issued")
	return d.ID, nil
}

func (c *Coordinator) push(ctx context.Context, orgID string, t model.DeploymentTarget, push Push) bool {
	transport, ok := c.registry.Lookup(t.DeviceUUID)
	if !ok {
		return false
	}

	// Enter the pending table before sending so an immediate ack finds it.
	key := targetKey{deploymentID: t.DeploymentID, deviceUUID: t.DeviceUUID}
	pushedAt := c.now()
	c.mu.Lock()
	c.pending[key] = pendingAck{
		organizationID: orgID,
		playerID:       t.PlayerID,
		pushedAt:       pushedAt,
		deadline:       pushedAt.Add(c.ackTimeout),
	}
	c.mu.Unlock()

	if err := transport.Send(EventDeploy, push); err != nil {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("deployment_id", t.DeploymentID).Str("device_uuid", t.DeviceUUID).Msg("deployment push failed, target stays queued")
		return false
	}

	if _, err := c.store.AdvanceDeploymentTarget(ctx, t.DeploymentID, t.DeviceUUID, model.AckPushed, pushedAt); err != nil {
		c.log.Error().Err(err).Str("deployment_id", t.DeploymentID).Str("device_uuid", t.DeviceUUID).Msg("failed to persist pushed state")
	}
	return true
}

// RecordAck settles a pushed target as acked. Acks for anything that is not
// currently pushed are dropped and reported as false.
func (c *Coordinator) RecordAck(ctx context.Context, deviceUUID, deploymentID string) bool {
	key := targetKey{deploymentID: deploymentID, deviceUUID: deviceUUID}
	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug().Str("deployment_id", deploymentID).Str("device_uuid", deviceUUID).Msg("ignoring ack for target not awaiting one")
		return false
	}

	at := c.now()
	ctx = context.WithoutCancel(ctx)
	if _, err := c.store.AdvanceDeploymentTarget(ctx, deploymentID, deviceUUID, model.AckAcked, at); err != nil {
		c.log.Error().Err(err).Str("deployment_id", deploymentID).Str("device_uuid", deviceUUID).Msg("failed to persist ack")
	}
	if err := c.store.StampDeployAck(ctx, deviceUUID, at); err != nil {
		c.log.Warn().Err(err).Str("device_uuid", deviceUUID).Msg("failed to stamp player deploy ack")
	}

	_ = c.relay.Publish(ctx, p.organizationID, relay.EventDeployAck, map[string]any{
		"deployment_id": deploymentID,
		"device_uuid":   deviceUUID,
		"player_id":     p.playerID,
		"acked_at":      at,
	})
	c.log.Info().Str("deployment_id", deploymentID).Str("device_uuid", deviceUUID).Dur("latency", at.Sub(p.pushedAt)).Msg("deployment acked")
	return true
}

// Sweep times out every pushed target whose deadline is at or before now.
func (c *Coordinator) Sweep(ctx context.Context, now time.Time) []Expired {
	var expired []Expired
	c.mu.Lock()
	for key, p := range c.pending {
		if now.Before(p.deadline) {
			continue
		}
		delete(c.pending, key)
		expired = append(expired, Expired{
			DeploymentID:   key.deploymentID,
			DeviceUUID:     key.deviceUUID,
			PlayerID:       p.playerID,
			OrganizationID: p.organizationID,
			PushedAt:       p.pushedAt,
		})
	}
	c.mu.Unlock()

	for _, e := range expired {
		if _, err := c.store.AdvanceDeploymentTarget(ctx, e.DeploymentID, e.DeviceUUID, model.AckTimedOut, now); err != nil {
			c.log.Error().Err(err).Str("deployment_id", e.DeploymentID).Str("device_uuid", e.DeviceUUID).Msg("failed to persist timeout")
		}
		_ = c.relay.Publish(ctx, e.OrganizationID, relay.EventDeployTimeout, map[string]any{
			"deployment_id": e.DeploymentID,
			"device_uuid":   e.DeviceUUID,
			"player_id":     e.PlayerID,
		})
		if c.notifier != nil {
			c.notifier.Dispatch(notification.Job{
				OrganizationID: e.OrganizationID,
				DeploymentID:   e.DeploymentID,
				DeviceUUID:     e.DeviceUUID,
				PlayerID:       e.PlayerID,
			})
		}
		c.log.Warn().Str("deployment_id", e.DeploymentID).Str("device_uuid", e.DeviceUUID).Msg("deployment ack timed out")
	}
	return expired
}

// Run sweeps on every tick until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx, c.now())
		}
	}
}

// Restore reloads targets that were pushed before a restart so their
// deadlines keep running.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	targets, err := c.store.ListPendingTargets(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending targets: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range targets {
		pushedAt := c.now()
		if t.PushedAt != nil {
			pushedAt = *t.PushedAt
		}
		c.pending[targetKey{deploymentID: t.DeploymentID, deviceUUID: t.DeviceUUID}] = pendingAck{
			organizationID: t.OrganizationID,
			playerID:       t.PlayerID,
			pushedAt:       pushedAt,
			deadline:       pushedAt.Add(c.ackTimeout),
		}
	}
	return len(targets), nil
}

// Get returns the stored deployment, the source of truth for dashboards.
func (c *Coordinator) Get(ctx context.Context, id string) (*model.Deployment, error) {
	return c.store.GetDeployment(ctx, id)
}

// Pending returns how many targets await an ack.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
