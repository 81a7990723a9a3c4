package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 32

// MemoryStore is the process-local counter backend. It serves as the
// automatic fallback when redis is unreachable, so limits hold only
// within one process while it is active.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &memoryShard{entries: make(map[string]*memoryEntry)}
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%memoryShards]
}

func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	now := time.Now()

	shard := s.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry := shard.entries[key]
	if entry == nil || !entry.expiresAt.After(now) {
		entry = &memoryEntry{expiresAt: now.Add(ttl)}
		shard.entries[key] = entry
	}
	entry.count++

	return entry.count, entry.expiresAt.Sub(now), nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	now := time.Now()

	shard := s.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry := shard.entries[key]
	if entry == nil || !entry.expiresAt.After(now) {
		return 0, nil
	}
	return entry.count, nil
}

func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	shard := s.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.entries, key)
	return nil
}

func (s *MemoryStore) Healthy(ctx context.Context) bool {
	return true
}

// Flush drops every counter. Called when the store becomes the active
// fallback so stale windows from a previous degradation don't leak in.
func (s *MemoryStore) Flush() {
	for _, shard := range s.shards {
		shard.mu.Lock()
		shard.entries = make(map[string]*memoryEntry)
		shard.mu.Unlock()
	}
}

// Sweep evicts expired entries. Run from a janitor goroutine.
func (s *MemoryStore) Sweep() int {
	now := time.Now()
	evicted := 0

	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if !entry.expiresAt.After(now) {
				delete(shard.entries, key)
				evicted++
			}
		}
		shard.mu.Unlock()
	}

	return evicted
}

// StartJanitor sweeps expired entries until ctx is cancelled.
func (s *MemoryStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}

	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}
