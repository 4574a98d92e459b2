package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"zenflow-backend/internal/metrics"
	"zenflow-backend/internal/model"
	"zenflow-backend/internal/store"
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

// Payload is the JSON body delivered to the service worker.
type Payload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Status string `json:"status"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan model.PermanentEvent
	subs    store.SubscriptionStore
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, subs store.SubscriptionStore, webpushOptions *webpush.Options) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan model.PermanentEvent, size*4),
		subs:    subs,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case event := <-wp.jobs:
			wp.notifyAll(ctx, event)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues an event for delivery. It never blocks; when the queue is
// full the event is dropped.
func (wp *WorkerPool) Dispatch(event model.PermanentEvent) {
	select {
	case wp.jobs <- event:
	default:
		metrics.PushNotifications.WithLabelValues("dropped").Inc()
		log.Printf("Warning: notification queue full, dropping %s event", event.Status)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan model.PermanentEvent {
	return wp.jobs
}

func (wp *WorkerPool) notifyAll(ctx context.Context, event model.PermanentEvent) {
	subscriptions, err := wp.subs.ListSubscriptions(ctx)
	if err != nil {
		log.Printf("Error fetching push subscriptions: %v", err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(buildPayload(event))
	if err != nil {
		log.Printf("Error encoding notification payload: %v", err)
		return
	}

	log.Printf("Sending %d notifications for %s", len(subscriptions), event.Status)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func buildPayload(event model.PermanentEvent) Payload {
	at := event.Timestamp.Format("15:04")
	body := fmt.Sprintf("Session update at %s", at)
	switch event.Status {
	case model.PermanentLoggedOff:
		body = fmt.Sprintf("Logged off at %s", at)
	case model.PermanentLoggedOn:
		body = fmt.Sprintf("Logged on at %s", at)
	}
	return Payload{Title: "ZenFlow", Body: body, Status: event.Status}
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
		metrics.PushNotifications.WithLabelValues("error").Inc()
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		metrics.PushNotifications.WithLabelValues("expired").Inc()
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.subs.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
		return
	}
	metrics.PushNotifications.WithLabelValues("sent").Inc()
}
