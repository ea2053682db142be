package notification

import (
	"context"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/store"
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

type job struct {
	to Recipient
	n  Notification
}

// WorkerPool delivers notifications to push subscriptions on a fixed number
// of goroutines.
type WorkerPool struct {
	size    int
	jobs    chan job
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
	icon    string
	baseURL string
	log     *zap.SugaredLogger
}

// NewWorkerPool creates a new worker pool. Relative URLs are resolved
// against baseURL; icon is used when a notification carries none.
func NewWorkerPool(size int, s store.Store, webpushOptions *webpush.Options, icon, baseURL string, log *zap.SugaredLogger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan job, size*16),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		icon:    icon,
		baseURL: strings.TrimSuffix(baseURL, "/"),
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
	wp.log.Debugw("notification worker started", "worker", id)
	for {
		select {
		case j := <-wp.jobs:
			wp.deliver(ctx, j)
		case <-ctx.Done():
			wp.log.Debugw("notification worker shutting down", "worker", id)
			return
		}
	}
}

// Notify queues n for delivery. When the queue is full the notification is
// dropped and logged.
func (wp *WorkerPool) Notify(to Recipient, n Notification) {
	select {
	case wp.jobs <- job{to: to, n: n}:
	default:
		wp.log.Warnw("notification queue full, dropping notification", "title", n.Title)
	}
}

func (wp *WorkerPool) deliver(ctx context.Context, j job) {
	subs, err := wp.store.SubscriptionsFor(ctx, j.to.UserID)
	if err != nil {
		wp.log.Errorw("failed to fetch subscriptions", "user", j.to.UserID, "err", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := wp.resolve(j.n).Payload()
	if err != nil {
		wp.log.Errorw("failed to encode notification", "title", j.n.Title, "err", err)
		return
	}

	wp.log.Debugw("sending notifications", "count", len(subs), "title", j.n.Title)
	for _, sub := range subs {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) resolve(n Notification) Notification {
	if n.Icon == "" {
		n.Icon = wp.icon
	}
	n.URL = wp.absolute(n.URL)
	actions := make([]Action, len(n.Actions))
	for i, a := range n.Actions {
		a.URL = wp.absolute(a.URL)
		actions[i] = a
	}
	n.Actions = actions
	return n
}

func (wp *WorkerPool) absolute(u string) string {
	if u == "" || !strings.HasPrefix(u, "/") {
		return u
	}
	return wp.baseURL + u
}

// sendNotification sends a single web push notification.
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
		wp.log.Warnw("error sending notification", "endpoint", sub.Endpoint, "err", err)
		return
	}
	defer resp.Body.Close()

	// Expired subscriptions are removed.
	if resp.StatusCode == http.StatusGone {
		wp.log.Infow("subscription expired, deleting", "endpoint", sub.Endpoint)
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Errorw("failed to delete expired subscription", "endpoint", sub.Endpoint, "err", err)
		}
	}
}
