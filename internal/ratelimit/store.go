package ratelimit

import (
	"context"
	"time"
)

// Store is the counter backend used by the evaluator and the penalty
// engine. Incr must be atomic: two concurrent callers on the same key
// can never observe the same post-increment count.
type Store interface {
	// Incr adds one to the counter and attaches ttl when the key is
	// new. Returns the post-increment count and the remaining TTL.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)

	// Get returns the current count, or zero for a missing key.
	Get(ctx context.Context, key string) (int64, error)

	Reset(ctx context.Context, key string) error

	Healthy(ctx context.Context) bool
}
