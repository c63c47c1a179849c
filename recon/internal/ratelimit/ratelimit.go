// Package ratelimit implements per-source request spacing.
//
// Each key (source id) carries its own grant schedule: a request is
// granted only after the source's minimum interval has elapsed since the
// previous grant for that same key. Keys do not interfere — contention
// on one source never delays another.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter spaces requests per key. Safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	nextAt map[string]time.Time
	now    func() time.Time
}

// New creates a Limiter with no history.
func New() *Limiter {
	return &Limiter{
		nextAt: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Reserve atomically claims the next grant slot for key and returns how
// long the caller must wait before proceeding. The slot is claimed under
// the lock, so two concurrent callers always receive consecutive slots —
// there is no window where both read the same "last request" time.
func (l *Limiter) Reserve(key string, minInterval time.Duration) time.Duration {
	if minInterval <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	grantAt := l.nextAt[key]
	if grantAt.Before(now) {
		grantAt = now
	}
	l.nextAt[key] = grantAt.Add(minInterval)
	return grantAt.Sub(now)
}

// Wait blocks until the caller's reserved slot for key arrives, or until
// ctx is done. The sleep happens outside the lock.
func (l *Limiter) Wait(ctx context.Context, key string, minInterval time.Duration) error {
	d := l.Reserve(key, minInterval)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
