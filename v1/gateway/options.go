package gateway

import (
	"log/slog"
	"time"

	"github.com/mirkobrombin/go-editlock/v1/cache"
)

// DefaultCacheTTL bounds how long a snapshot is served from the cache.
const DefaultCacheTTL = 10 * time.Minute

// Option configures a Gateway.
type Option[T any] func(*Gateway[T])

// WithCache serves reads from c and refreshes it on every write.
func WithCache[T any](c cache.Cache[Snapshot[T]], ttl time.Duration) Option[T] {
	return func(g *Gateway[T]) {
		g.cache = c
		if ttl > 0 {
			g.cacheTTL = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(g *Gateway[T]) {
		if l != nil {
			g.logger = l
		}
	}
}

// WriteOption configures a single Write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	release bool
}

// WithRelease ends the edit session: the caller's lock is released once the
// write has been persisted and broadcast.
func WithRelease() WriteOption {
	return func(o *writeOptions) { o.release = true }
}
