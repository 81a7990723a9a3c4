package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/npai/quota-engine/internal/storage"
)

// RedisStore keeps counters in the shared redis backend so limits hold
// across every engine process.
type RedisStore struct {
	redis *storage.RedisClient
}

func NewRedisStore(redis *storage.RedisClient) *RedisStore {
	return &RedisStore{redis: redis}
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	count, remaining, err := s.redis.IncrWithExpire(ctx, key, ttl)
	if err != nil {
		return 0, 0, err
	}

	if remaining <= 0 {
		remaining = ttl
	}

	return count, remaining, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.redis.Get(ctx, key)
	if storage.IsNil(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	count, _ := strconv.ParseInt(val, 10, 64)
	return count, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.redis.Del(ctx, key)
}

func (s *RedisStore) Healthy(ctx context.Context) bool {
	return s.redis.Ping(ctx) == nil
}
