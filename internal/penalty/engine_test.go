package penalty

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/npai/quota-engine/internal/models"
)

// memRecordStore is an in-memory RecordStore for tests.
type memRecordStore struct {
	mu      sync.Mutex
	records map[string]models.ViolationRecord
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{records: make(map[string]models.ViolationRecord)}
}

func (s *memRecordStore) Upsert(ctx context.Context, record *models.ViolationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.IdentityKey] = *record
	return nil
}

func (s *memRecordStore) Delete(ctx context.Context, identityKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, identityKey)
	return nil
}

func (s *memRecordStore) LoadSince(ctx context.Context, since time.Time) ([]models.ViolationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ViolationRecord
	for _, rec := range s.records {
		if rec.LastViolationAt.After(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func TestEngine_EscalatesAndCaps(t *testing.T) {
	t.Parallel()

	engine := NewEngine(Config{
		Base:   5 * time.Minute,
		Max:    time.Hour,
		Window: 2 * time.Hour,
	}, nil)
	ctx := context.Background()

	want := []time.Duration{
		5 * time.Minute,
		10 * time.Minute,
		20 * time.Minute,
		40 * time.Minute,
		time.Hour,
		time.Hour, // capped
	}
	for i, expected := range want {
		got := engine.RecordViolation(ctx, "ip:1.2.3.4")
		if got != expected {
			t.Fatalf("violation %d: expected %v, got %v", i+1, expected, got)
		}
	}
}

func TestEngine_IsPenalized(t *testing.T) {
	t.Parallel()

	engine := NewEngine(Config{Base: time.Minute}, nil)
	ctx := context.Background()

	blocked, _ := engine.IsPenalized(ctx, "ip:5.6.7.8")
	if blocked {
		t.Fatalf("fresh identity should not be penalized")
	}

	engine.RecordViolation(ctx, "ip:5.6.7.8")

	blocked, remaining := engine.IsPenalized(ctx, "ip:5.6.7.8")
	if !blocked {
		t.Fatalf("expected active penalty")
	}
	if remaining <= 0 || remaining > time.Minute {
		t.Fatalf("bad remaining duration %v", remaining)
	}

	blocked, _ = engine.IsPenalized(ctx, "ip:other")
	if blocked {
		t.Fatalf("penalty leaked to another identity")
	}
}

func TestEngine_WindowDecayResetsEscalation(t *testing.T) {
	t.Parallel()

	engine := NewEngine(Config{
		Base:   50 * time.Millisecond,
		Max:    time.Hour,
		Window: 100 * time.Millisecond,
	}, nil)
	ctx := context.Background()

	engine.RecordViolation(ctx, "user:u1")
	engine.RecordViolation(ctx, "user:u1")

	time.Sleep(150 * time.Millisecond)

	// Window elapsed, so escalation restarts at base.
	if got := engine.RecordViolation(ctx, "user:u1"); got != 50*time.Millisecond {
		t.Fatalf("expected reset to base, got %v", got)
	}
}

func TestEngine_SweepDropsExpired(t *testing.T) {
	t.Parallel()

	store := newMemRecordStore()
	engine := NewEngine(Config{
		Base:   10 * time.Millisecond,
		Window: 30 * time.Millisecond,
	}, store)
	ctx := context.Background()

	engine.RecordViolation(ctx, "ip:9.9.9.9")
	time.Sleep(60 * time.Millisecond)

	if swept := engine.Sweep(ctx); swept != 1 {
		t.Fatalf("expected 1 swept, got %d", swept)
	}
	store.mu.Lock()
	_, exists := store.records["ip:9.9.9.9"]
	store.mu.Unlock()
	if exists {
		t.Fatalf("swept record not deleted from store")
	}
}

func TestEngine_LoadRestoresState(t *testing.T) {
	t.Parallel()

	store := newMemRecordStore()
	now := time.Now()
	store.records["key:k1"] = models.ViolationRecord{
		IdentityKey:           "key:k1",
		ViolationCount:        3,
		LastViolationAt:       now,
		CurrentPenaltySeconds: 1200,
		PenaltyExpiresAt:      now.Add(20 * time.Minute),
	}

	engine := NewEngine(Config{Base: 5 * time.Minute, Max: time.Hour}, store)
	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	blocked, remaining := engine.IsPenalized(context.Background(), "key:k1")
	if !blocked {
		t.Fatalf("restored penalty not active")
	}
	if remaining > 20*time.Minute {
		t.Fatalf("bad remaining %v", remaining)
	}

	// The next violation continues the restored escalation.
	if got := engine.RecordViolation(context.Background(), "key:k1"); got != 40*time.Minute {
		t.Fatalf("expected 40m for violation 4, got %v", got)
	}
}
