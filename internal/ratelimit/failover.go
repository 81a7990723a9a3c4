package ratelimit

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/npai/quota-engine/internal/circuitbreaker"
)

// FailoverStore routes counter traffic to redis and degrades to the
// in-process store when redis times out or its circuit opens. The hot
// path never waits longer than the configured timeout on redis.
type FailoverStore struct {
	primary  Store
	local    *MemoryStore
	breaker  *circuitbreaker.CircuitBreaker
	timeout  time.Duration
	fallback atomic.Bool
}

type FailoverConfig struct {
	Timeout     time.Duration // per-call redis budget (default 50ms)
	MaxFailures int
	OpenFor     time.Duration
}

func NewFailoverStore(primary Store, local *MemoryStore, cfg FailoverConfig) *FailoverStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 50 * time.Millisecond
	}
	if local == nil {
		local = NewMemoryStore()
	}

	return &FailoverStore{
		primary: primary,
		local:   local,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			MaxFailures: cfg.MaxFailures,
			Timeout:     cfg.OpenFor,
		}),
		timeout: cfg.Timeout,
	}
}

func (s *FailoverStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	if s.fallback.Load() {
		return s.local.Incr(ctx, key, ttl)
	}

	var count int64
	var remaining time.Duration

	err := s.breaker.Call(func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		var err error
		count, remaining, err = s.primary.Incr(callCtx, key, ttl)
		return err
	})

	if err != nil {
		s.enterFallback(err)
		return s.local.Incr(ctx, key, ttl)
	}

	return count, remaining, nil
}

func (s *FailoverStore) Get(ctx context.Context, key string) (int64, error) {
	if s.fallback.Load() {
		return s.local.Get(ctx, key)
	}

	var count int64
	err := s.breaker.Call(func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		var err error
		count, err = s.primary.Get(callCtx, key)
		return err
	})

	if err != nil {
		s.enterFallback(err)
		return s.local.Get(ctx, key)
	}

	return count, nil
}

func (s *FailoverStore) Reset(ctx context.Context, key string) error {
	if err := s.local.Reset(ctx, key); err != nil {
		return err
	}
	if s.fallback.Load() {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.primary.Reset(callCtx, key)
}

func (s *FailoverStore) Healthy(ctx context.Context) bool {
	return !s.fallback.Load()
}

// FallbackActive reports whether counters are currently process-local.
func (s *FailoverStore) FallbackActive() bool {
	return s.fallback.Load()
}

func (s *FailoverStore) enterFallback(err error) {
	if s.fallback.CompareAndSwap(false, true) {
		// Counters restart from zero locally. Accepted inconsistency:
		// availability over strict global accuracy.
		s.local.Flush()
		log.Printf("counter store degraded, using in-memory fallback: %v", err)
	}
}

func (s *FailoverStore) exitFallback() {
	if s.fallback.CompareAndSwap(true, false) {
		s.breaker.Reset()
		log.Printf("counter store recovered, resuming distributed counters")
	}
}

// StartHealthLoop probes the primary until ctx is cancelled and exits
// fallback mode once it responds again.
func (s *FailoverStore) StartHealthLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}

	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.fallback.Load() {
					continue
				}
				probeCtx, cancel := context.WithTimeout(ctx, s.timeout*4)
				healthy := s.primary.Healthy(probeCtx)
				cancel()
				if healthy {
					s.exitFallback()
				}
			}
		}
	}()
}
