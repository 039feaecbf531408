package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool delivers events to the employee's push subscriptions.
type WorkerPool struct {
	size    int
	jobs    chan Event
	subs    *Subscriptions
	webpush *webpush.Options
	sender  NotificationSender
	logger  *slog.Logger
}

// NewWorkerPool creates a pool with size workers and a queue of queueSize events.
func NewWorkerPool(size, queueSize int, subs *Subscriptions, opts *webpush.Options, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = size * 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Event, queueSize),
		subs:    subs,
		webpush: opts,
		sender:  &WebPushSender{},
		logger:  logger.With("component", "notify"),
	}
}

// WithSender replaces the push sender (tests).
func (wp *WorkerPool) WithSender(s NotificationSender) *WorkerPool {
	wp.sender = s
	return wp
}

// Start launches the worker goroutines. They exit when ctx is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Debug("worker started", "worker", id)
	for {
		select {
		case ev := <-wp.jobs:
			wp.deliver(ctx, ev)
		case <-ctx.Done():
			wp.logger.Debug("worker shutting down", "worker", id)
			return
		}
	}
}

// Notify enqueues ev without blocking. A full queue drops the event.
func (wp *WorkerPool) Notify(ctx context.Context, ev Event) {
	select {
	case wp.jobs <- ev:
	default:
		wp.logger.WarnContext(ctx, "notification queue full, dropping event",
			"kind", ev.Kind, "employee_id", ev.EmployeeID)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Event {
	return wp.jobs
}

func (wp *WorkerPool) deliver(ctx context.Context, ev Event) {
	subs, err := wp.subs.List(ctx, ev.EmployeeID)
	if err != nil {
		wp.logger.Error("fetching subscriptions failed", "employee_id", ev.EmployeeID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		wp.logger.Error("encoding event failed", "error", err)
		return
	}
	for _, sub := range subs {
		wp.send(ctx, sub, payload)
	}
}

func (wp *WorkerPool) send(ctx context.Context, sub Subscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.logger.Warn("push send failed", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	// Expired subscriptions are removed
	if resp.StatusCode == http.StatusGone {
		wp.logger.Info("subscription expired, deleting", "endpoint", sub.Endpoint)
		if err := wp.subs.Delete(ctx, sub.EmployeeID, sub.Endpoint); err != nil {
			wp.logger.Error("deleting expired subscription failed", "endpoint", sub.Endpoint, "error", err)
		}
	}
}
