// Package relay forwards the events of one broadcast room to an external
// system for consumers outside the process. Forwarding is best effort: sink
// failures are logged and counted and never reach the lock manager or the
// gateway.
package relay

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/mirkobrombin/go-editlock/v1/broadcast"
	"github.com/mirkobrombin/go-editlock/v1/event"
)

// Sink delivers a single event.
type Sink interface {
	Send(ctx context.Context, ev event.ChangeEvent) error
	Close() error
}

// Metrics reports relay counters.
type Metrics struct {
	Sent         uint64
	Failed       uint64
	Resubscribed uint64
}

// Relay subscribes to a room like any observer and hands every event to a
// Sink.
type Relay struct {
	hub    *broadcast.Hub
	room   string
	sink   Sink
	logger *slog.Logger

	sent         atomic.Uint64
	failed       atomic.Uint64
	resubscribed atomic.Uint64
	ready        chan struct{}
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns a relay from room on hub to sink.
func New(hub *broadcast.Hub, room string, sink Sink, opts ...Option) *Relay {
	r := &Relay{
		hub:    hub,
		room:   room,
		sink:   sink,
		logger: slog.Default(),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ready is closed once the first subscription is in place.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

// Run forwards events until ctx is done. If the relay falls behind and is
// evicted by the hub it subscribes again; events published in between are
// not replayed.
func (r *Relay) Run(ctx context.Context) error {
	first := true
	for {
		sub, err := r.hub.Subscribe(ctx, r.room)
		if err != nil {
			return nil
		}
		if first {
			close(r.ready)
			first = false
		}
		r.forward(ctx, sub)
		if ctx.Err() != nil {
			return nil
		}
		r.resubscribed.Add(1)
		r.logger.Warn("relay fell behind, resubscribing", "room", r.room)
	}
}

func (r *Relay) forward(ctx context.Context, sub *broadcast.Subscription) {
	defer r.hub.Unsubscribe(sub)
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := r.sink.Send(ctx, ev); err != nil {
				r.failed.Add(1)
				r.logger.Warn("relay send failed", "room", r.room, "resource", ev.ResourceID, "kind", ev.Kind, "error", err)
				continue
			}
			r.sent.Add(1)
		case <-ctx.Done():
			return
		}
	}
}

// Metrics returns the relay counters.
func (r *Relay) Metrics() Metrics {
	return Metrics{
		Sent:         r.sent.Load(),
		Failed:       r.failed.Load(),
		Resubscribed: r.resubscribed.Load(),
	}
}
