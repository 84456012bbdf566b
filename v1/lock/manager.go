package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mirkobrombin/go-editlock/v1/clock"
	"github.com/mirkobrombin/go-editlock/v1/event"
	"github.com/mirkobrombin/go-editlock/v1/metrics"
)

// Publisher receives lock events once a transition has been decided.
// Publish must not call back into the Manager that invokes it.
type Publisher interface {
	Publish(ctx context.Context, room string, ev event.ChangeEvent) error
}

// Manager enforces acquire, release, renew and expiry over a Store.
//
// Every state transition happens inside a single Store.update call. Events
// get their sequence number and their place in the outbox inside that call.
// The outbox is drained after the guard is released by one publisher at a
// time, so events go out in the order they were decided.
type Manager struct {
	store *Store
	clock clock.Clock
	pub   Publisher
	seq   *event.Sequencer
	room  string

	lease         time.Duration
	maxLease      time.Duration
	sweepInterval time.Duration

	logger *slog.Logger

	outMu  sync.Mutex
	outbox []pending
	pubMu  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

type pending struct {
	kind    event.Kind
	rec     Record
	at      time.Time
	seq     uint64
	payload any
}

// NewManager returns a Manager over store. A nil store gets a fresh one.
// When the sweep interval is positive the background sweeper starts
// immediately and runs until Close.
func NewManager(store *Store, opts ...Option) *Manager {
	if store == nil {
		store = NewStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:         store,
		clock:         clock.System(),
		seq:           &event.Sequencer{},
		room:          DefaultRoom,
		lease:         DefaultLeaseDuration,
		maxLease:      DefaultMaxLease,
		sweepInterval: DefaultSweepInterval,
		logger:        slog.Default(),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sweepInterval > 0 {
		t := m.clock.NewTicker(m.sweepInterval)
		m.wg.Add(1)
		go m.sweeper(t)
	}
	return m
}

// Store returns the underlying lock store for read access.
func (m *Manager) Store() *Store { return m.store }

// Room returns the room lock events are published to.
func (m *Manager) Room() string { return m.room }

// LeaseDuration returns the default lease.
func (m *Manager) LeaseDuration() time.Duration { return m.lease }

// Clock returns the clock leases are measured against.
func (m *Manager) Clock() clock.Clock { return m.clock }

// Acquire grants actorID a lease on resourceID. It succeeds when the
// resource is unlocked, when the previous lease has lapsed, or when actorID
// already holds it (the lease is then extended). Otherwise it returns an
// *AlreadyHeldError describing the current holder.
func (m *Manager) Acquire(ctx context.Context, resourceID, actorID, actorLabel string, lease time.Duration) (Snapshot, error) {
	if m.closed.Load() {
		return Snapshot{}, ErrClosed
	}
	if resourceID == "" || actorID == "" {
		metrics.LockAcquireCounter.WithLabelValues("invalid").Inc()
		return Snapshot{}, ErrInvalidArgument
	}
	lease, err := m.leaseFor(lease)
	if err != nil {
		metrics.LockAcquireCounter.WithLabelValues("invalid").Inc()
		return Snapshot{}, err
	}
	if actorLabel == "" {
		actorLabel = actorID
	}
	token := uuid.NewString()

	var (
		out     Record
		held    *AlreadyHeldError
		renewed bool
		evs     []pending
		size    int
	)
	m.store.update(func(tx *txn) {
		now := m.clock.Now()
		cur, ok := tx.get(resourceID)
		if ok && !cur.Live(now) {
			tx.remove(resourceID)
			evs = append(evs, m.transition(event.KindLockExpired, cur, now))
			ok = false
		}
		if ok && cur.HolderID != actorID {
			held = &AlreadyHeldError{
				ResourceID:  resourceID,
				HolderLabel: cur.HolderLabel,
				ExpiresAt:   cur.ExpiresAt,
			}
			return
		}
		rec := Record{
			ResourceID:  resourceID,
			HolderID:    actorID,
			HolderLabel: actorLabel,
			Token:       token,
			AcquiredAt:  now,
			ExpiresAt:   now.Add(lease),
		}
		if ok {
			rec.Token = cur.Token
			rec.AcquiredAt = cur.AcquiredAt
			renewed = true
		}
		tx.put(rec)
		out = rec
		evs = append(evs, m.transition(event.KindLockAcquired, rec, now))
		size = tx.len()
	})
	m.flush(ctx, len(evs) > 0)

	if held != nil {
		metrics.LockAcquireCounter.WithLabelValues("held").Inc()
		m.logger.Info("lock contended", "resource", resourceID, "actor", actorID, "holder", held.HolderLabel, "expires_at", held.ExpiresAt)
		return Snapshot{}, held
	}
	metrics.ActiveLocksGauge.Set(float64(size))
	if renewed {
		metrics.LockAcquireCounter.WithLabelValues("renewed").Inc()
	} else {
		metrics.LockAcquireCounter.WithLabelValues("granted").Inc()
	}
	m.logger.Debug("lock acquired", "resource", resourceID, "actor", actorID, "expires_at", out.ExpiresAt, "renewed", renewed)
	return out, nil
}

// Release frees the lock held by actorID. Releasing a resource that has no
// live lease is a no-op; releasing someone else's lease fails with a
// *NotHolderError and leaves it untouched.
func (m *Manager) Release(ctx context.Context, resourceID, actorID string) error {
	_, err := m.release(ctx, resourceID, actorID)
	return err
}

func (m *Manager) release(ctx context.Context, resourceID, actorID string) (bool, error) {
	if resourceID == "" || actorID == "" {
		return false, ErrInvalidArgument
	}
	var (
		notHolder *NotHolderError
		released  bool
		evs       []pending
		size      int
	)
	m.store.update(func(tx *txn) {
		defer func() { size = tx.len() }()
		now := m.clock.Now()
		cur, ok := tx.get(resourceID)
		if !ok {
			return
		}
		if !cur.Live(now) {
			tx.remove(resourceID)
			evs = append(evs, m.transition(event.KindLockExpired, cur, now))
			return
		}
		if cur.HolderID != actorID {
			notHolder = &NotHolderError{ResourceID: resourceID, ActorID: actorID}
			return
		}
		tx.remove(resourceID)
		released = true
		evs = append(evs, m.transition(event.KindLockReleased, cur, now))
	})
	m.flush(ctx, len(evs) > 0)

	if notHolder != nil {
		return false, notHolder
	}
	metrics.ActiveLocksGauge.Set(float64(size))
	if released {
		metrics.LockReleaseCounter.Inc()
		m.logger.Debug("lock released", "resource", resourceID, "actor", actorID)
	}
	return released, nil
}

// Renew extends the lease held by actorID from the current time.
func (m *Manager) Renew(ctx context.Context, resourceID, actorID string, lease time.Duration) (Snapshot, error) {
	if m.closed.Load() {
		return Snapshot{}, ErrClosed
	}
	if resourceID == "" || actorID == "" {
		return Snapshot{}, ErrInvalidArgument
	}
	lease, err := m.leaseFor(lease)
	if err != nil {
		return Snapshot{}, err
	}
	var (
		out       Record
		notHolder *NotHolderError
		evs       []pending
	)
	m.store.update(func(tx *txn) {
		now := m.clock.Now()
		cur, ok := tx.get(resourceID)
		if ok && !cur.Live(now) {
			tx.remove(resourceID)
			evs = append(evs, m.transition(event.KindLockExpired, cur, now))
			ok = false
		}
		if !ok || cur.HolderID != actorID {
			notHolder = &NotHolderError{ResourceID: resourceID, ActorID: actorID}
			return
		}
		cur.ExpiresAt = now.Add(lease)
		tx.put(cur)
		out = cur
		evs = append(evs, m.transition(event.KindLockAcquired, cur, now))
	})
	m.flush(ctx, len(evs) > 0)

	if notHolder != nil {
		return Snapshot{}, notHolder
	}
	metrics.LockAcquireCounter.WithLabelValues("renewed").Inc()
	return out, nil
}

// Inspect returns the live lease on resourceID, if any. It never mutates
// the store; a lapsed lease reads as absent.
func (m *Manager) Inspect(resourceID string) (Snapshot, bool) {
	r, ok := m.store.Get(resourceID)
	if !ok || !r.Live(m.clock.Now()) {
		return Snapshot{}, false
	}
	return r, true
}

// Locks returns every live lease.
func (m *Manager) Locks() []Snapshot {
	return m.store.All(m.clock.Now())
}

// ReleaseAll releases every live lease held by actorID and returns the
// resource ids that were released. Each release goes through the same path
// as Release.
func (m *Manager) ReleaseAll(ctx context.Context, actorID string) ([]string, error) {
	if actorID == "" {
		return nil, nil
	}
	var out []string
	for _, id := range m.store.HeldBy(actorID) {
		ok, err := m.release(ctx, id, actorID)
		if errors.Is(err, ErrNotHolder) {
			continue
		}
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Sweep removes every lapsed lease, publishes one lock-expired event per
// lease and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) int {
	var (
		evs  []pending
		size int
	)
	m.store.update(func(tx *txn) {
		now := m.clock.Now()
		for _, r := range tx.expired(now) {
			evs = append(evs, m.transition(event.KindLockExpired, r, now))
		}
		size = tx.len()
	})
	m.flush(ctx, len(evs) > 0)
	metrics.ActiveLocksGauge.Set(float64(size))
	if len(evs) > 0 {
		m.logger.Debug("expired locks swept", "count", len(evs))
	}
	return len(evs)
}

// Close stops the background sweeper. Acquire and Renew fail with ErrClosed
// afterwards; Release keeps working so callers can still clean up.
func (m *Manager) Close() error {
	m.closed.Store(true)
	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *Manager) sweeper(t clock.Ticker) {
	defer m.wg.Done()
	defer t.Stop()
	for {
		select {
		case <-t.C():
			m.Sweep(m.ctx)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) leaseFor(d time.Duration) (time.Duration, error) {
	switch {
	case d < 0:
		return 0, ErrInvalidLease
	case d == 0:
		d = m.lease
	}
	if m.maxLease > 0 && d > m.maxLease {
		d = m.maxLease
	}
	return d, nil
}

// Announce publishes an event about resourceID that is not a lock
// transition, such as a record update, numbered and ordered together with
// lock events.
func (m *Manager) Announce(ctx context.Context, kind event.Kind, resourceID string, at time.Time, payload any) {
	m.store.update(func(*txn) {
		m.enqueue(pending{kind: kind, rec: Record{ResourceID: resourceID}, at: at, seq: m.seq.Next(), payload: payload})
	})
	m.flush(ctx, true)
}

// transition must be called inside Store.update so sequence numbers and
// outbox order follow the order transitions were decided in.
func (m *Manager) transition(kind event.Kind, r Record, at time.Time) pending {
	p := pending{kind: kind, rec: r, at: at, seq: m.seq.Next()}
	m.enqueue(p)
	return p
}

func (m *Manager) enqueue(p pending) {
	m.outMu.Lock()
	m.outbox = append(m.outbox, p)
	m.outMu.Unlock()
}

// flush publishes queued events in outbox order. A caller that finds another
// flush in progress waits for it, so its own events are out when flush
// returns.
func (m *Manager) flush(ctx context.Context, queued bool) {
	if !queued {
		return
	}
	// Transitions are final by now, so publish even if the caller has gone.
	ctx = context.WithoutCancel(ctx)
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	for {
		m.outMu.Lock()
		batch := m.outbox
		m.outbox = nil
		m.outMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, p := range batch {
			m.publish(ctx, p)
		}
	}
}

func (m *Manager) publish(ctx context.Context, p pending) {
	payload := p.payload
	if payload == nil {
		switch p.kind {
		case event.KindLockAcquired:
			payload = event.LockPayload{
				ResourceID:  p.rec.ResourceID,
				HolderID:    p.rec.HolderID,
				HolderLabel: p.rec.HolderLabel,
				AcquiredAt:  p.rec.AcquiredAt,
				ExpiresAt:   p.rec.ExpiresAt,
			}
		default:
			payload = event.UnlockPayload{ResourceID: p.rec.ResourceID, HolderID: p.rec.HolderID}
		}
	}
	if p.kind == event.KindLockExpired {
		metrics.LockExpiredCounter.Inc()
	}
	if m.pub == nil {
		return
	}
	ev, err := event.New(p.kind, p.rec.ResourceID, p.seq, p.at, payload)
	if err != nil {
		m.logger.Warn("encode event failed", "resource", p.rec.ResourceID, "kind", p.kind, "error", err)
		return
	}
	if err := m.pub.Publish(ctx, m.room, ev); err != nil {
		m.logger.Warn("publish event failed", "resource", p.rec.ResourceID, "kind", p.kind, "error", err)
	}
}
