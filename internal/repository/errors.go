package repository

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// LockHeldError reports a failed acquisition and who holds the lock.
type LockHeldError struct {
	HeldBy    string
	StartedAt time.Time
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("promotion lock held by %s since %s", e.HeldBy, e.StartedAt.UTC().Format(time.RFC3339))
}

// IsLockHeld reports whether err wraps a LockHeldError.
func IsLockHeld(err error) bool {
	var held *LockHeldError
	return errors.As(err, &held)
}
