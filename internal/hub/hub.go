package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"stationmon/internal/clock"
	"stationmon/internal/metrics"

	"github.com/google/uuid"
)

const defaultBuffer = 64

// Options configures hub.
// Params: per-subscriber buffer size, clock, and logger.
// Returns: hub construction settings.
type Options struct {
	Buffer int
	Clock  clock.Clock
	Logger *slog.Logger
}

// Hub fans events out to subscribers without blocking publishers.
type Hub struct {
	buffer int
	clock  clock.Clock
	logger *slog.Logger

	seq atomic.Uint64

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription is one subscriber channel.
type Subscription struct {
	ID string

	hub     *Hub
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// New creates hub.
func New(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		buffer: opts.Buffer,
		clock:  opts.Clock,
		logger: opts.Logger,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Subscribe registers subscriber for events published from now on.
// Params: none.
// Returns: subscription; its channel is already closed when hub is closed.
func (h *Hub) Subscribe() *Subscription {
	return h.SubscribeBuffer(h.buffer)
}

// SubscribeBuffer registers subscriber with custom buffer size.
func (h *Hub) SubscribeBuffer(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = h.buffer
	}
	sub := &Subscription{
		ID:  uuid.NewString(),
		hub: h,
		ch:  make(chan Event, buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	h.subs[sub] = struct{}{}
	metrics.HubSubscribers.Inc()
	h.logger.Debug("hub subscriber added", "subscription_id", sub.ID, "buffer", buffer)
	return sub
}

// Unsubscribe removes subscriber and closes its channel once.
// Safe to call repeatedly and concurrently with Publish.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		metrics.HubSubscribers.Dec()
		h.logger.Debug("hub subscriber removed", "subscription_id", sub.ID, "dropped", sub.dropped.Load())
	}
	sub.once.Do(func() { close(sub.ch) })
}

// Publish assigns id, sequence, and timestamp, then offers event to every subscriber.
// Params: event with kind and payload.
// Returns: stamped event; full subscriber buffers drop it for that subscriber only.
func (h *Hub) Publish(event Event) Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return event
	}
	event.ID = uuid.NewString()
	event.Seq = h.seq.Add(1)
	event.At = h.clock.Now()
	metrics.HubEventsPublished.WithLabelValues(string(event.Kind)).Inc()

	for sub := range h.subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			metrics.HubEventsDropped.Inc()
		}
	}
	return event
}

// Len returns active subscriber count.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close removes every subscriber; later publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		h.removeLocked(sub)
	}
}

// Events returns receive channel closed on unsubscribe.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns events dropped for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes from hub.
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}
