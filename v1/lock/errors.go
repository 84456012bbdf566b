package lock

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyHeld indicates another actor holds a live lease on the resource.
	ErrAlreadyHeld = errors.New("editlock: lock is held by another actor")

	// ErrNotHolder indicates a release or renew by an actor that does not hold the lock.
	ErrNotHolder = errors.New("editlock: caller does not hold the lock")

	// ErrInvalidArgument indicates an empty resource or actor identifier.
	ErrInvalidArgument = errors.New("editlock: resource and actor ids must be non-empty")

	// ErrInvalidLease indicates a negative lease duration.
	ErrInvalidLease = errors.New("editlock: lease duration must not be negative")

	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("editlock: lock manager closed")
)

// AlreadyHeldError carries the current holder of a contended lock so the
// caller can tell the user who is editing and until when.
type AlreadyHeldError struct {
	ResourceID  string
	HolderLabel string
	ExpiresAt   time.Time
}

func (e *AlreadyHeldError) Error() string {
	return fmt.Sprintf("this item is currently being edited by %s, try again after %s",
		e.HolderLabel, e.ExpiresAt.Format(time.RFC3339))
}

// Is reports whether target is ErrAlreadyHeld.
func (e *AlreadyHeldError) Is(target error) bool { return target == ErrAlreadyHeld }

// NotHolderError is returned when the caller's view of lock ownership is stale.
type NotHolderError struct {
	ResourceID string
	ActorID    string
}

func (e *NotHolderError) Error() string {
	return fmt.Sprintf("editlock: %s does not hold the lock on %s", e.ActorID, e.ResourceID)
}

// Is reports whether target is ErrNotHolder.
func (e *NotHolderError) Is(target error) bool { return target == ErrNotHolder }
