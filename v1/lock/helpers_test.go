package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mirkobrombin/go-editlock/v1/clock"
	"github.com/mirkobrombin/go-editlock/v1/event"
)

var t0 = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []event.ChangeEvent
	rooms  []string
}

func (r *recorder) Publish(ctx context.Context, room string, ev event.ChangeEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.rooms = append(r.rooms, room)
	r.mu.Unlock()
	return nil
}

func (r *recorder) snapshot() []event.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.ChangeEvent(nil), r.events...)
}

func (r *recorder) count(kind event.Kind, resourceID string) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Kind == kind && ev.ResourceID == resourceID {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *clock.Manual, *recorder) {
	t.Helper()
	clk := clock.NewManual(t0)
	rec := &recorder{}
	base := []Option{
		WithClock(clk),
		WithPublisher(rec),
		WithSweepInterval(0),
	}
	m := NewManager(NewStore(), append(base, opts...)...)
	t.Cleanup(func() { _ = m.Close() })
	return m, clk, rec
}
