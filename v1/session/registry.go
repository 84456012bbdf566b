// Package session tracks the live observer connections of each actor and
// releases an actor's edit locks when its last connection goes away.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mirkobrombin/go-editlock/v1/broadcast"
	"github.com/mirkobrombin/go-editlock/v1/metrics"
)

// ErrUnknownSession is returned for operations on a connection id that is not
// registered.
var ErrUnknownSession = errors.New("session: unknown session")

// LockReleaser releases every lock held by an actor.
type LockReleaser interface {
	ReleaseAll(ctx context.Context, actorID string) ([]string, error)
}

// Session is one observer connection.
type Session struct {
	ID      string
	ActorID string

	sub *broadcast.Subscription
}

// Subscription returns the broadcaster handle the session receives events on.
func (s *Session) Subscription() *broadcast.Subscription { return s.sub }

// Registry maps connections to actors and rooms.
type Registry struct {
	mu       sync.Mutex
	hub      *broadcast.Hub
	releaser LockReleaser
	logger   *slog.Logger

	sessions map[string]*Session
	byActor  map[string]map[string]struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a registry that subscribes sessions on hub and releases
// locks through releaser. A nil releaser disables lock cleanup.
func NewRegistry(hub *broadcast.Hub, releaser LockReleaser, opts ...Option) *Registry {
	r := &Registry{
		hub:      hub,
		releaser: releaser,
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
		byActor:  make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect registers a new session for actorID joined to rooms. An empty
// actorID registers an anonymous observer.
func (r *Registry) Connect(ctx context.Context, actorID string, rooms ...string) (*Session, error) {
	sub, err := r.hub.Subscribe(context.WithoutCancel(ctx), rooms...)
	if err != nil {
		return nil, err
	}
	s := &Session{ID: uuid.NewString(), ActorID: actorID, sub: sub}

	r.mu.Lock()
	r.sessions[s.ID] = s
	if actorID != "" {
		set := r.byActor[actorID]
		if set == nil {
			set = make(map[string]struct{})
			r.byActor[actorID] = set
		}
		set[s.ID] = struct{}{}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.SessionGauge.Set(float64(n))
	r.logger.Debug("session connected", "session", s.ID, "actor", actorID, "rooms", rooms)
	return s, nil
}

// Join adds the session to room.
func (r *Registry) Join(connID, room string) error {
	s, err := r.lookup(connID)
	if err != nil {
		return err
	}
	return r.hub.Join(s.sub, room)
}

// Leave removes the session from room.
func (r *Registry) Leave(connID, room string) error {
	s, err := r.lookup(connID)
	if err != nil {
		return err
	}
	r.hub.Leave(s.sub, room)
	return nil
}

// Rooms returns the rooms the session is joined to.
func (r *Registry) Rooms(connID string) ([]string, error) {
	s, err := r.lookup(connID)
	if err != nil {
		return nil, err
	}
	return s.sub.Rooms(), nil
}

func (r *Registry) lookup(connID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// Disconnect removes the session from every room. When it was the actor's
// last live session, the actor's locks are released. Disconnecting an unknown
// or already removed session is a no-op.
//
// The registry guard is held across the release so a concurrent Connect for
// the same actor is ordered either before it (locks kept) or after it.
func (r *Registry) Disconnect(ctx context.Context, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return nil
	}
	delete(r.sessions, connID)
	r.hub.Unsubscribe(s.sub)
	metrics.SessionGauge.Set(float64(len(r.sessions)))

	if s.ActorID == "" {
		return nil
	}
	set := r.byActor[s.ActorID]
	delete(set, connID)
	if len(set) > 0 {
		r.logger.Debug("session disconnected, actor still connected", "session", connID, "actor", s.ActorID, "remaining", len(set))
		return nil
	}
	delete(r.byActor, s.ActorID)
	if r.releaser == nil {
		return nil
	}

	released, err := r.releaser.ReleaseAll(ctx, s.ActorID)
	if len(released) > 0 {
		r.logger.Info("released locks on disconnect", "actor", s.ActorID, "resources", released)
	}
	return err
}

// Sessions returns the number of live sessions for actorID.
func (r *Registry) Sessions(actorID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byActor[actorID])
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
