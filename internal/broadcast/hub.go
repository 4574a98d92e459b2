// Package broadcast fans presence events out to connected subscribers.
package broadcast

import (
	"log"
	"sync"
	"time"

	"zenflow-backend/internal/metrics"
	"zenflow-backend/internal/model"
)

// Message types understood by the web client.
const (
	TypeStatusChange          = "status_change"
	TypePermanentStatusChange = "permanent_status_change"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

// Message is one event delivered to a subscriber.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusPayload is the data of a status_change message.
type StatusPayload struct {
	Status model.PresenceStatus `json:"status"`
}

// StatusSource supplies the snapshot handed to new subscribers.
type StatusSource interface {
	CurrentStatus() model.PresenceStatus
}

// Subscriber is one registered receiver. Messages are queued on a bounded
// channel; when the queue is full new messages are dropped.
type Subscriber struct {
	ID string

	mu     sync.Mutex
	send   chan *Message
	closed bool
}

// Messages returns the subscriber's queue. It is closed on Unsubscribe.
func (s *Subscriber) Messages() <-chan *Message {
	return s.send
}

func (s *Subscriber) deliver(msg *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// Hub is the event broadcaster.
type Hub struct {
	source StatusSource
	buffer int
	now    func() time.Time

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	listeners   []func(model.PermanentEvent)
}

// NewHub creates a hub whose connect-time snapshot is read from source.
func NewHub(source StatusSource, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		source:      source,
		buffer:      buffer,
		now:         time.Now,
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a subscriber and queues the current status for it
// alone. A subscriber already registered under id is replaced and closed.
func (h *Hub) Subscribe(id string) *Subscriber {
	sub := &Subscriber{ID: id, send: make(chan *Message, h.buffer)}

	h.mu.Lock()
	if existing, ok := h.subscribers[id]; ok {
		existing.close()
	}
	h.subscribers[id] = sub
	count := len(h.subscribers)
	sub.deliver(h.statusMessage(h.source.CurrentStatus()))
	h.mu.Unlock()

	metrics.Subscribers.Set(float64(count))
	log.Printf("Subscriber connected: %s (total: %d)", id, count)
	return sub
}

// Unsubscribe removes a subscriber and closes its queue. Unknown ids are ignored.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	current, ok := h.subscribers[sub.ID]
	if ok && current == sub {
		delete(h.subscribers, sub.ID)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	sub.close()
	if ok && current == sub {
		metrics.Subscribers.Set(float64(count))
		log.Printf("Subscriber disconnected: %s (total: %d)", sub.ID, count)
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// OnPermanentChange registers fn to be called for every permanent event.
func (h *Hub) OnPermanentChange(fn func(model.PermanentEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// BroadcastStatusChange delivers a status_change message to every subscriber
// and returns how many queues accepted it.
func (h *Hub) BroadcastStatusChange(status model.PresenceStatus) int {
	return h.broadcast(h.statusMessage(status))
}

// BroadcastPermanentStatusChange delivers a permanent_status_change message
// to every subscriber, then notifies the permanent-change listeners.
func (h *Hub) BroadcastPermanentStatusChange(event model.PermanentEvent) int {
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now()
	}
	delivered := h.broadcast(&Message{
		Type:      TypePermanentStatusChange,
		Data:      event,
		Timestamp: event.Timestamp,
	})

	h.mu.RLock()
	listeners := make([]func(model.PermanentEvent), len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.RUnlock()
	for _, fn := range listeners {
		fn(event)
	}
	return delivered
}

// Close unregisters and closes every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[string]*Subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	metrics.Subscribers.Set(0)
}

func (h *Hub) broadcast(msg *Message) int {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.deliver(msg) {
			delivered++
			continue
		}
		metrics.DroppedMessages.Inc()
		log.Printf("Warning: dropped %s for subscriber %s", msg.Type, sub.ID)
	}
	return delivered
}

func (h *Hub) statusMessage(status model.PresenceStatus) *Message {
	return &Message{
		Type:      TypeStatusChange,
		Data:      StatusPayload{Status: status},
		Timestamp: h.now(),
	}
}
