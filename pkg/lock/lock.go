package lock

import (
	"context"
	"time"
)

// Locker grants exclusive, non-blocking leases on string keys.
// A key that is already held yields ErrLocked immediately; callers that want
// to wait must retry themselves.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	// Key returns the locked key.
	Key() string
	// Release gives the key back. Releasing a lease that expired and was
	// taken by someone else returns ErrNotHeld and leaves the new holder alone.
	Release(ctx context.Context) error
}
