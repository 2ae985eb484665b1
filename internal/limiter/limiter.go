// Package limiter implements fixed-window counters for rate limiting and
// account lockout. Counters live in a shared store so they stay correct
// across multiple server instances behind a load balancer; a store error is
// always surfaced to the caller, which must reject the request (fail closed).
package limiter

import (
	"context"
	"time"
)

// Store is a counter store with atomic increment-and-expire semantics.
// The window TTL is applied when a key is first created and never extended,
// so a counter (and any lockout derived from it) expires on its own.
type Store interface {
	// Incr atomically increments key and returns the new count. The window
	// is set as the key's TTL only if the key did not already have one.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// Count returns the current count for key, 0 if absent or expired.
	Count(ctx context.Context, key string) (int64, error)
	// Reset deletes the counter for key.
	Reset(ctx context.Context, key string) error
}

// Limiter gates requests on a counter in the underlying store.
type Limiter struct {
	store  Store
	prefix string
	limit  int64
	window time.Duration
}

// New creates a limiter that allows up to limit events per window per key.
func New(store Store, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{
		store:  store,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
	}
}

// Allow consumes one unit for key and reports whether the limit is still
// respected. A store error means the caller must reject the request.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := l.store.Incr(ctx, l.prefix+key, l.window)
	if err != nil {
		return false, err
	}
	return count <= l.limit, nil
}

// Exceeded reports whether key is already over the limit without consuming.
// Used for the lockout gate: a locked account fails fast before any
// credential work happens.
func (l *Limiter) Exceeded(ctx context.Context, key string) (bool, error) {
	count, err := l.store.Count(ctx, l.prefix+key)
	if err != nil {
		return false, err
	}
	return count >= l.limit, nil
}

// Record counts a failure against key and returns the new total.
func (l *Limiter) Record(ctx context.Context, key string) (int64, error) {
	return l.store.Incr(ctx, l.prefix+key, l.window)
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, l.prefix+key)
}
