package lock

import (
	"log/slog"
	"time"

	"github.com/mirkobrombin/go-editlock/v1/clock"
)

const (
	// DefaultLeaseDuration is the lease granted when the caller passes zero.
	DefaultLeaseDuration = 5 * time.Minute

	// DefaultMaxLease caps any requested lease.
	DefaultMaxLease = time.Hour

	// DefaultSweepInterval is how often lapsed leases are removed in the background.
	DefaultSweepInterval = 30 * time.Second

	// DefaultRoom receives every lock event unless configured otherwise.
	DefaultRoom = "admin"
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source used for lease computation.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithPublisher sets where lock events are sent.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.pub = p
	}
}

// WithRoom sets the room lock events are published to.
func WithRoom(room string) Option {
	return func(m *Manager) {
		if room != "" {
			m.room = room
		}
	}
}

// WithLeaseDuration sets the default lease.
func WithLeaseDuration(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lease = d
		}
	}
}

// WithMaxLease caps requested leases. A non-positive value disables the cap.
func WithMaxLease(d time.Duration) Option {
	return func(m *Manager) {
		m.maxLease = d
	}
}

// WithSweepInterval sets the background sweep period.
// A zero or negative duration disables the background sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.sweepInterval = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
