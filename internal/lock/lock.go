// internal/lock/lock.go
package lock

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ErrHeld is returned by Retry when every attempt found the lock taken.
var ErrHeld = errors.New("lock: held by another command")

// Locker provides non-blocking per-room mutual exclusion. A held lock expires after its
// TTL so a crashed holder never leaves a room stuck.
type Locker interface {
	// TryAcquire returns false, nil when another holder owns the lock.
	TryAcquire(ctx context.Context, roomID, holder string, ttl time.Duration) (bool, error)
	// Release drops the lock only if holder still owns it.
	Release(ctx context.Context, roomID, holder string) error
}

// Backoff is a bounded exponential retry policy.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Factor   float64
	Max      time.Duration
	Jitter   float64
}

// DefaultBackoff is used for the rejoin-accept path: 4 attempts, 40ms doubling to at most
// 320ms, each delay jittered by ±20%.
var DefaultBackoff = Backoff{
	Attempts: 4,
	Base:     40 * time.Millisecond,
	Factor:   2,
	Max:      320 * time.Millisecond,
	Jitter:   0.2,
}

// Delay returns the wait before attempt n (n starts at 1 for the first retry).
func (b Backoff) Delay(n int) time.Duration {
	d := float64(b.Base)
	for i := 1; i < n; i++ {
		d *= b.Factor
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// Retry tries to acquire the lock up to b.Attempts times, sleeping b.Delay between
// attempts. It returns ErrHeld when all attempts fail.
func Retry(ctx context.Context, l Locker, roomID, holder string, ttl time.Duration, b Backoff) error {
	attempts := max(b.Attempts, 1)
	for i := 0; i < attempts; i++ {
		if i > 0 {
			t := time.NewTimer(b.Delay(i))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		ok, err := l.TryAcquire(ctx, roomID, holder, ttl)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrHeld
}
