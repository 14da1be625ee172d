package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"signage-control-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Store is the persistence the workers read subscriptions and player names from.
type Store interface {
	ListPushSubscriptionsByOrg(ctx context.Context, orgID string) ([]model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
	GetPlayerByID(ctx context.Context, id string) (*model.Player, error)
}

// Job is one delivery failure to announce to an organization's dashboard users.
type Job struct {
	OrganizationID string
	DeploymentID   string
	DeviceUUID     string
	PlayerID       string
}

// Message is the JSON payload pushed to the browser.
type Message struct {
	Title        string `json:"title"`
	Body         string `json:"body"`
	DeploymentID string `json:"deployment_id"`
	DeviceUUID   string `json:"device_uuid"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Job
	store   Store
	webpush *webpush.Options
	sender  NotificationSender
	log     zerolog.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, st Store, webpushOptions *webpush.Options, log zerolog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, size*16),
		store:   st,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug().Int("worker", id).Msg("notification worker started")
	for {
		select {
		case job := <-wp.jobs:
			wp.sendNotificationsForJob(ctx, job)
		case <-ctx.Done():
			wp.log.Debug().Int("worker", id).Msg("notification worker shutting down")
			return
		}
	}
}

// Dispatch queues a job. When the queue is full the job is dropped so the
// caller never blocks.
func (wp *WorkerPool) Dispatch(job Job) {
	select {
	case wp.jobs <- job:
	default:
		wp.log.Warn().Str("deployment_id", job.DeploymentID).Str("device_uuid", job.DeviceUUID).Msg("notification queue full, dropping job")
	}
}

func (wp *WorkerPool) sendNotificationsForJob(ctx context.Context, job Job) {
	if wp.webpush == nil || wp.webpush.VAPIDPrivateKey == "" {
		return
	}

	subscriptions, err := wp.store.ListPushSubscriptionsByOrg(ctx, job.OrganizationID)
	if err != nil {
		wp.log.Error().Err(err).Str("organization_id", job.OrganizationID).Msg("failed to fetch push subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	label := job.DeviceUUID
	if job.PlayerID != "" {
		if p, err := wp.store.GetPlayerByID(ctx, job.PlayerID); err != nil {
			wp.log.Debug().Err(err).Str("player_id", job.PlayerID).Msg("player lookup failed, using device uuid")
		} else if p.Name != "" {
			label = p.Name
		}
	}

	payload, err := json.Marshal(Message{
		Title:        "Deployment not delivered",
		Body:         fmt.Sprintf("%s did not acknowledge deployment %s", label, job.DeploymentID),
		DeploymentID: job.DeploymentID,
		DeviceUUID:   job.DeviceUUID,
	})
	if err != nil {
		wp.log.Error().Err(err).Msg("failed to encode push payload")
		return
	}

	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to send push notification")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		wp.log.Info().Str("endpoint", sub.Endpoint).Msg("push subscription expired, deleting")
		if err := wp.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
	}
}
