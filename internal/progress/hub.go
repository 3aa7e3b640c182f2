// Package progress fans pipeline progress out to live subscribers of a batch.
//
// Delivery is best effort. Publishing never blocks: a subscriber whose buffer is
// full misses the event and is expected to fall back to polling batch status.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/metrics"
)

const (
	defaultBuffer    = 32
	defaultRetention = 10 * time.Minute
)

// Publisher accepts progress events.
type Publisher interface {
	Publish(event domain.ProgressEvent)
}

type topic struct {
	subscribers map[*Subscription]struct{}
	percentage  int
}

// Hub keeps one topic per batch. Topics are created on first use and disposed
// when a final event is published or Close is called.
type Hub struct {
	mu        sync.Mutex
	topics    map[uuid.UUID]*topic
	closed    map[uuid.UUID]time.Time
	buffer    int
	retention time.Duration
	now       func() time.Time
}

type Option func(*Hub)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.buffer = size
		}
	}
}

// WithRetention sets how long a disposed topic keeps rejecting new subscribers.
func WithRetention(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.retention = d
		}
	}
}

func NewHub(opts ...Option) *Hub {
	hub := &Hub{
		topics:    make(map[uuid.UUID]*topic),
		closed:    make(map[uuid.UUID]time.Time),
		buffer:    defaultBuffer,
		retention: defaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(hub)
	}
	return hub
}

// Publish delivers event to current subscribers of its batch. Percentages are
// clamped so subscribers never observe progress going backwards.
func (h *Hub) Publish(event domain.ProgressEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now()
	}
	event.Percentage = clamp(event.Percentage)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, done := h.closed[event.BatchID]; done {
		metrics.RecordProgressDrop("closed")
		return
	}
	t := h.topicLocked(event.BatchID)
	if event.Percentage < t.percentage {
		event.Percentage = t.percentage
	}
	t.percentage = event.Percentage

	for sub := range t.subscribers {
		select {
		case sub.ch <- event:
		default:
			metrics.RecordProgressDrop("slow_subscriber")
		}
	}

	if event.Final {
		h.disposeLocked(event.BatchID)
	}
}

// Subscribe joins the batch topic. Subscribing to a disposed topic yields a
// subscription whose channel is already closed.
func (h *Hub) Subscribe(batchID uuid.UUID) *Subscription {
	sub := &Subscription{hub: h, batchID: batchID, ch: make(chan domain.ProgressEvent, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, done := h.closed[batchID]; done {
		sub.detached = true
		close(sub.ch)
		return sub
	}
	h.topicLocked(batchID).subscribers[sub] = struct{}{}
	metrics.ProgressSubscribers.Inc()
	return sub
}

// Close disposes the batch topic and closes every subscriber channel.
func (h *Hub) Close(batchID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disposeLocked(batchID)
}

// Subscribers reports the number of live subscribers of a batch.
func (h *Hub) Subscribers(batchID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[batchID]; ok {
		return len(t.subscribers)
	}
	return 0
}

func (h *Hub) topicLocked(batchID uuid.UUID) *topic {
	t, ok := h.topics[batchID]
	if !ok {
		t = &topic{subscribers: make(map[*Subscription]struct{})}
		h.topics[batchID] = t
	}
	return t
}

func (h *Hub) disposeLocked(batchID uuid.UUID) {
	now := h.now()
	if t, ok := h.topics[batchID]; ok {
		for sub := range t.subscribers {
			sub.detached = true
			close(sub.ch)
			metrics.ProgressSubscribers.Dec()
		}
		delete(h.topics, batchID)
	}
	h.closed[batchID] = now
	for id, at := range h.closed {
		if now.Sub(at) > h.retention {
			delete(h.closed, id)
		}
	}
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.detached {
		return
	}
	sub.detached = true
	if t, ok := h.topics[sub.batchID]; ok {
		delete(t.subscribers, sub)
		if len(t.subscribers) == 0 && t.percentage == 0 {
			delete(h.topics, sub.batchID)
		}
	}
	close(sub.ch)
	metrics.ProgressSubscribers.Dec()
}

// Subscription is one listener on a batch topic.
type Subscription struct {
	hub     *Hub
	batchID uuid.UUID
	ch      chan domain.ProgressEvent
	// detached is guarded by hub.mu.
	detached bool
}

// Events is closed when the topic is disposed or the subscription is closed.
func (s *Subscription) Events() <-chan domain.ProgressEvent {
	return s.ch
}

// Close leaves the topic. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

func clamp(percentage int) int {
	switch {
	case percentage < 0:
		return 0
	case percentage > 100:
		return 100
	}
	return percentage
}
