// Package gateway is the entry point for reading and changing records. It
// consults the lock manager before every write and announces successful
// writes to the broadcaster.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-editlock/v1/adapter"
	"github.com/mirkobrombin/go-editlock/v1/cache"
	"github.com/mirkobrombin/go-editlock/v1/event"
	"github.com/mirkobrombin/go-editlock/v1/lock"
	"github.com/mirkobrombin/go-editlock/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-editlock/v1/gateway")

// Mutation derives the new record from the current one.
type Mutation[T any] func(current T) (T, error)

// Snapshot is a record as last read or written through the gateway.
// UpdatedAt and UpdatedBy are zero for records not yet written since start.
type Snapshot[T any] struct {
	ResourceID string    `json:"resourceId"`
	Data       T         `json:"data"`
	UpdatedAt  time.Time `json:"updatedAt,omitempty"`
	UpdatedBy  string    `json:"updatedBy,omitempty"`
}

// Gateway combines a record store with the lock manager.
type Gateway[T any] struct {
	store adapter.Store[T]
	locks *lock.Manager

	cache    cache.Cache[Snapshot[T]]
	cacheTTL time.Duration
	logger   *slog.Logger

	writes *keyedMutex
}

// New returns a Gateway. Record events are announced through locks, so they
// share its room, its sequence and its publish order.
func New[T any](store adapter.Store[T], locks *lock.Manager, opts ...Option[T]) *Gateway[T] {
	g := &Gateway[T]{
		store:    store,
		locks:    locks,
		cacheTTL: DefaultCacheTTL,
		logger:   slog.Default(),
		writes:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func startSpan(ctx context.Context, name, id, actorID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("editlock.resource", id)}
	if actorID != "" {
		attrs = append(attrs, attribute.String("editlock.actor", actorID))
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (g *Gateway[T]) exists(ctx context.Context, id string) error {
	_, ok, err := g.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load record %s: %w", id, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// AcquireLock grants actorID the edit lock on an existing record.
func (g *Gateway[T]) AcquireLock(ctx context.Context, id, actorID, actorLabel string, lease time.Duration) (lock.Snapshot, error) {
	ctx, span := startSpan(ctx, "Gateway.AcquireLock", id, actorID)
	defer span.End()
	if id == "" || actorID == "" {
		return lock.Snapshot{}, fail(span, lock.ErrInvalidArgument)
	}
	if err := g.exists(ctx, id); err != nil {
		return lock.Snapshot{}, fail(span, err)
	}
	snap, err := g.locks.Acquire(ctx, id, actorID, actorLabel, lease)
	if err != nil {
		var held *lock.AlreadyHeldError
		if errors.As(err, &held) {
			span.SetAttributes(attribute.String("editlock.holder", held.HolderLabel))
			return snap, err
		}
		return snap, fail(span, err)
	}
	return snap, nil
}

// RenewLock extends actorID's lease on id.
func (g *Gateway[T]) RenewLock(ctx context.Context, id, actorID string, lease time.Duration) (lock.Snapshot, error) {
	ctx, span := startSpan(ctx, "Gateway.RenewLock", id, actorID)
	defer span.End()
	return g.locks.Renew(ctx, id, actorID, lease)
}

// ReleaseLock ends actorID's lease on id. Releasing an unlocked or unknown
// record succeeds.
func (g *Gateway[T]) ReleaseLock(ctx context.Context, id, actorID string) error {
	ctx, span := startSpan(ctx, "Gateway.ReleaseLock", id, actorID)
	defer span.End()
	return g.locks.Release(ctx, id, actorID)
}

// InspectLock reports the live lease on id, if any.
func (g *Gateway[T]) InspectLock(id string) (lock.Snapshot, bool) {
	return g.locks.Inspect(id)
}

// Locks returns every live lease.
func (g *Gateway[T]) Locks() []lock.Snapshot {
	return g.locks.Locks()
}

// Write applies mutation to record id on behalf of actorID.
//
// A record locked by another actor is never touched and yields a
// *LockedError. When the store rejects the write the error is returned and
// any lease actorID holds is kept so the write can be retried. Writes to the
// same record are serialized, and each successful one publishes exactly one
// record-updated event in completion order.
func (g *Gateway[T]) Write(ctx context.Context, id, actorID string, mutation Mutation[T], opts ...WriteOption) (Snapshot[T], error) {
	ctx, span := startSpan(ctx, "Gateway.Write", id, actorID)
	defer span.End()

	if id == "" || actorID == "" || mutation == nil {
		return Snapshot[T]{}, fail(span, lock.ErrInvalidArgument)
	}
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	unlock := g.writes.lock(id)
	defer unlock()

	if held, ok := g.locks.Inspect(id); ok && held.HolderID != actorID {
		metrics.RecordWriteCounter.WithLabelValues("locked").Inc()
		span.SetAttributes(attribute.String("editlock.holder", held.HolderLabel))
		return Snapshot[T]{}, &LockedError{ResourceID: id, HolderLabel: held.HolderLabel, ExpiresAt: held.ExpiresAt}
	}

	current, ok, err := g.store.Get(ctx, id)
	if err != nil {
		metrics.RecordWriteCounter.WithLabelValues("error").Inc()
		return Snapshot[T]{}, fail(span, fmt.Errorf("load record %s: %w", id, err))
	}
	if !ok {
		metrics.RecordWriteCounter.WithLabelValues("not_found").Inc()
		return Snapshot[T]{}, fail(span, ErrNotFound)
	}
	next, err := mutation(current)
	if err != nil {
		metrics.RecordWriteCounter.WithLabelValues("rejected").Inc()
		return Snapshot[T]{}, fail(span, err)
	}
	if err := g.store.Set(ctx, id, next); err != nil {
		metrics.RecordWriteCounter.WithLabelValues("error").Inc()
		g.logger.Warn("record write failed, lock retained", "resource", id, "actor", actorID, "error", err)
		// The store may or may not hold the new value now.
		if g.cache != nil {
			_ = g.cache.Invalidate(context.WithoutCancel(ctx), id)
		}
		return Snapshot[T]{}, fail(span, fmt.Errorf("persist record %s: %w", id, err))
	}

	now := g.locks.Clock().Now()
	snap := Snapshot[T]{ResourceID: id, Data: next, UpdatedAt: now, UpdatedBy: actorID}
	if g.cache != nil {
		if err := g.cache.Set(context.WithoutCancel(ctx), id, snap, g.cacheTTL); err != nil {
			g.logger.Warn("cache refresh failed", "resource", id, "error", err)
		}
	}
	g.locks.Announce(ctx, event.KindRecordUpdated, id, now, snap)
	metrics.RecordWriteCounter.WithLabelValues("ok").Inc()

	if o.release {
		if err := g.locks.Release(context.WithoutCancel(ctx), id, actorID); err != nil {
			g.logger.Warn("release after write failed", "resource", id, "actor", actorID, "error", err)
		}
	}
	return snap, nil
}

// Read returns the current snapshot of id without consulting the lock
// manager.
func (g *Gateway[T]) Read(ctx context.Context, id string) (Snapshot[T], error) {
	ctx, span := startSpan(ctx, "Gateway.Read", id, "")
	defer span.End()

	if g.cache != nil {
		if snap, ok, err := g.cache.Get(ctx, id); err == nil && ok {
			span.SetAttributes(attribute.String("editlock.cache", "hit"))
			return snap, nil
		}
		// Fill under the write mutex so a stale load cannot replace the
		// snapshot of a write that committed meanwhile.
		unlock := g.writes.lock(id)
		defer unlock()
		if snap, ok, err := g.cache.Get(ctx, id); err == nil && ok {
			return snap, nil
		}
	}
	v, ok, err := g.store.Get(ctx, id)
	if err != nil {
		return Snapshot[T]{}, fail(span, fmt.Errorf("load record %s: %w", id, err))
	}
	if !ok {
		return Snapshot[T]{}, ErrNotFound
	}
	snap := Snapshot[T]{ResourceID: id, Data: v}
	if g.cache != nil {
		_ = g.cache.Set(ctx, id, snap, g.cacheTTL)
	}
	return snap, nil
}

// List returns the ids of every known record.
func (g *Gateway[T]) List(ctx context.Context) ([]string, error) {
	ctx, span := startSpan(ctx, "Gateway.List", "", "")
	defer span.End()
	ids, err := g.store.Keys(ctx)
	if err != nil {
		return nil, fail(span, fmt.Errorf("list records: %w", err))
	}
	return ids, nil
}
