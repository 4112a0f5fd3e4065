package lock

import (
	"context"
	"errors"
	"log"
	"time"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out leases on keys in a shared key space.
type Locker interface {
	// Acquire sets key only if absent, with ttl as expiry. It returns
	// ErrNotAcquired when another holder has the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock. Release is idempotent.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// WithLock runs fn while holding key and releases it on every exit path,
// panics included. Release uses a context detached from ctx cancellation.
func WithLock(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer release(ctx, lease)
	return fn(ctx)
}

func release(ctx context.Context, lease Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		log.Printf("[Lock] Failed to release %s: %v", lease.Key(), err)
	}
}
