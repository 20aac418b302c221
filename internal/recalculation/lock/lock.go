// Package lock serializes recalculations per user.
package lock

import (
	"context"
	"time"
)

// Locker grants short-lived exclusive leases on a key. TryLock never waits: ok is false
// when another holder owns the key. The returned token must be passed to Release.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}
