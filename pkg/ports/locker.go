package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a previously acquired lock.
type UnlockFunc func(ctx context.Context) error

// Locker provides distributed mutual exclusion for session keys, used
// when multiple engine processes share a state store. Single-process
// deployments rely on the session manager's in-memory locks alone.
type Locker interface {
	// Lock blocks until the lock for key is held or ctx is done.
	// The lock auto-expires after ttl if not released.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
