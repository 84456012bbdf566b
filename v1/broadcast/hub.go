// Package broadcast fans change events out to observer subscriptions grouped
// in named rooms.
//
// Delivery is fire-and-forget and never blocks the publisher. Each
// subscription has a bounded buffer; one that falls behind is evicted and its
// channel closed, and the observer is expected to re-fetch state when it
// reconnects. There is no replay log.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mirkobrombin/go-editlock/v1/event"
	"github.com/mirkobrombin/go-editlock/v1/metrics"
)

// DefaultBuffer is the per-subscription event buffer.
const DefaultBuffer = 64

// ErrSubscriptionClosed is returned when joining rooms on a closed subscription.
var ErrSubscriptionClosed = errors.New("broadcast: subscription closed")

// Subscription is the handle returned by Subscribe. Events for every joined
// room arrive on C in publish order.
type Subscription struct {
	id   string
	ch   chan event.ChangeEvent
	done chan struct{}

	mu      sync.Mutex
	rooms   map[string]struct{}
	closed  bool
	evicted bool
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// C returns the delivery channel. It is closed on Unsubscribe or eviction.
func (s *Subscription) C() <-chan event.ChangeEvent { return s.ch }

// Rooms returns the joined rooms, sorted.
func (s *Subscription) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Evicted reports whether the subscription was dropped for falling behind.
func (s *Subscription) Evicted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

// deliver enqueues ev without blocking. It returns false when the buffer is
// full and the subscription must be evicted.
func (s *Subscription) deliver(ev event.ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) close(evicted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.evicted = evicted
	s.rooms = map[string]struct{}{}
	close(s.ch)
	close(s.done)
}

// Done is closed once the subscription has ended for any reason.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Metrics reports hub counters.
type Metrics struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
}

// Hub routes published events to the subscriptions joined to a room.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Subscription]struct{}
	buffer int
	logger *slog.Logger

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscription buffer size.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHub creates an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		rooms:  make(map[string]map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe creates a subscription joined to rooms. The subscription is
// removed when ctx is cancelled or Unsubscribe is called.
func (h *Hub) Subscribe(ctx context.Context, rooms ...string) (*Subscription, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	sub := &Subscription{
		id:    uuid.NewString(),
		ch:    make(chan event.ChangeEvent, h.buffer),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	for _, room := range rooms {
		h.join(sub, room)
	}
	h.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.Unsubscribe(sub)
			case <-sub.done:
			}
		}()
	}
	return sub, nil
}

// Join adds sub to room. Joining a room twice is a no-op.
func (h *Hub) Join(sub *Subscription, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub.mu.Lock()
	closed := sub.closed
	sub.mu.Unlock()
	if closed {
		return ErrSubscriptionClosed
	}
	h.join(sub, room)
	return nil
}

// join requires h.mu held for writing.
func (h *Hub) join(sub *Subscription, room string) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Subscription]struct{})
		h.rooms[room] = members
	}
	members[sub] = struct{}{}
	sub.mu.Lock()
	sub.rooms[room] = struct{}{}
	sub.mu.Unlock()
}

// Leave removes sub from room.
func (h *Hub) Leave(sub *Subscription, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(sub, room)
}

func (h *Hub) leave(sub *Subscription, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	sub.mu.Lock()
	delete(sub.rooms, room)
	sub.mu.Unlock()
}

// Unsubscribe removes sub from every room and closes its channel. It is safe
// to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.remove(sub, false)
}

func (h *Hub) remove(sub *Subscription, evicted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range sub.Rooms() {
		h.leave(sub, room)
	}
	sub.close(evicted)
}

// Publish delivers ev to every subscription joined to room. Delivery never
// blocks; subscriptions with a full buffer are evicted.
func (h *Hub) Publish(ctx context.Context, room string, ev event.ChangeEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var slow []*Subscription
	h.mu.RLock()
	for sub := range h.rooms[room] {
		if sub.deliver(ev) {
			h.delivered.Add(1)
			continue
		}
		slow = append(slow, sub)
	}
	h.mu.RUnlock()

	h.published.Add(1)
	metrics.EventPublishedCounter.WithLabelValues(string(ev.Kind)).Inc()
	for _, sub := range slow {
		h.dropped.Add(1)
		metrics.EventDroppedCounter.Inc()
		h.logger.Warn("evicting slow subscriber", "subscription", sub.id, "room", room, "resource", ev.ResourceID)
		h.remove(sub, true)
	}
	return nil
}

// Members returns the number of subscriptions joined to room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Metrics returns the published, delivered and dropped counts.
func (h *Hub) Metrics() Metrics {
	return Metrics{
		Published: h.published.Load(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}
