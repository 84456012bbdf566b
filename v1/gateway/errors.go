package gateway

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLocked is matched by *LockedError.
	ErrLocked = errors.New("gateway: record locked by another actor")
	// ErrNotFound is returned for operations on an unknown record.
	ErrNotFound = errors.New("gateway: record not found")
)

// LockedError reports a write blocked by another actor's lease.
type LockedError struct {
	ResourceID  string
	HolderLabel string
	ExpiresAt   time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("this item is currently being edited by %s, try again after %s",
		e.HolderLabel, e.ExpiresAt.Format(time.RFC3339))
}

// Is reports whether target is ErrLocked.
func (e *LockedError) Is(target error) bool { return target == ErrLocked }
