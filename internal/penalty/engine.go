package penalty

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/npai/quota-engine/internal/models"
)

// RecordStore persists violation records so escalation state survives
// a restart. Implementations must tolerate concurrent upserts.
type RecordStore interface {
	Upsert(ctx context.Context, record *models.ViolationRecord) error
	Delete(ctx context.Context, identityKey string) error
	LoadSince(ctx context.Context, since time.Time) ([]models.ViolationRecord, error)
}

type Config struct {
	Base   time.Duration // first-violation penalty (default 5m)
	Max    time.Duration // escalation ceiling (default 1h)
	Window time.Duration // rolling window before state decays (default 2h)
}

// Engine tracks repeated violations per identity and escalates block
// duration with a doubling backoff. State is memory-authoritative with
// asynchronous write-through to the record store.
type Engine struct {
	mu      sync.Mutex
	records map[string]*violationState

	base   time.Duration
	max    time.Duration
	window time.Duration
	store  RecordStore
}

type violationState struct {
	count        int
	lastViolated time.Time
	penalty      time.Duration
	blockedUntil time.Time
}

func NewEngine(cfg Config, store RecordStore) *Engine {
	if cfg.Base <= 0 {
		cfg.Base = 5 * time.Minute
	}
	if cfg.Max <= 0 {
		cfg.Max = time.Hour
	}
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Hour
	}

	return &Engine{
		records: make(map[string]*violationState),
		base:    cfg.Base,
		max:     cfg.Max,
		window:  cfg.Window,
		store:   store,
	}
}

// Load restores escalation state recorded within the rolling window.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	records, err := e.store.LoadSince(ctx, time.Now().Add(-e.window))
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range records {
		e.records[rec.IdentityKey] = &violationState{
			count:        rec.ViolationCount,
			lastViolated: rec.LastViolationAt,
			penalty:      time.Duration(rec.CurrentPenaltySeconds) * time.Second,
			blockedUntil: rec.PenaltyExpiresAt,
		}
	}

	return nil
}

// RecordViolation escalates the identity's penalty and returns the new
// block duration. Every violation restarts the rolling window.
func (e *Engine) RecordViolation(ctx context.Context, identityKey string) time.Duration {
	now := time.Now()

	e.mu.Lock()
	state := e.records[identityKey]
	if state == nil || now.Sub(state.lastViolated) > e.window {
		state = &violationState{}
		e.records[identityKey] = state
	}

	state.count++
	state.penalty = e.penaltyFor(state.count)
	state.lastViolated = now
	state.blockedUntil = now.Add(state.penalty)

	snapshot := models.ViolationRecord{
		IdentityKey:           identityKey,
		ViolationCount:        state.count,
		LastViolationAt:       state.lastViolated,
		CurrentPenaltySeconds: int(state.penalty.Seconds()),
		PenaltyExpiresAt:      state.blockedUntil,
	}
	penalty := state.penalty
	e.mu.Unlock()

	if e.store != nil {
		// Write-through off the hot path.
		go func() {
			if err := e.store.Upsert(context.WithoutCancel(ctx), &snapshot); err != nil {
				log.Printf("failed to persist violation record for %s: %v", identityKey, err)
			}
		}()
	}

	return penalty
}

// IsPenalized reports whether the identity is inside an active block
// and how long remains. Cheap rejection path, checked before any
// counter round trips.
func (e *Engine) IsPenalized(ctx context.Context, identityKey string) (bool, time.Duration) {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.records[identityKey]
	if state == nil {
		return false, 0
	}
	if now.Sub(state.lastViolated) > e.window {
		delete(e.records, identityKey)
		return false, 0
	}
	if state.blockedUntil.After(now) {
		return true, state.blockedUntil.Sub(now)
	}

	return false, 0
}

// penaltyFor is base * 2^(n-1), capped at max.
func (e *Engine) penaltyFor(count int) time.Duration {
	penalty := e.base
	for i := 1; i < count; i++ {
		penalty *= 2
		if penalty >= e.max {
			return e.max
		}
	}
	if penalty > e.max {
		return e.max
	}
	return penalty
}

// Sweep drops identities whose rolling window elapsed without a new
// violation.
func (e *Engine) Sweep(ctx context.Context) int {
	now := time.Now()
	var expired []string

	e.mu.Lock()
	for key, state := range e.records {
		if now.Sub(state.lastViolated) > e.window {
			delete(e.records, key)
			expired = append(expired, key)
		}
	}
	e.mu.Unlock()

	if e.store != nil {
		for _, key := range expired {
			if err := e.store.Delete(ctx, key); err != nil {
				log.Printf("failed to delete violation record for %s: %v", key, err)
			}
		}
	}

	return len(expired)
}

// StartSweeper runs Sweep until ctx is cancelled.
func (e *Engine) StartSweeper(ctx context.Context, every time.Duration) {
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
				e.Sweep(ctx)
			}
		}
	}()
}

// Stats summarizes current escalation state for the status surface.
type Stats struct {
	Tracked          int            `json:"tracked"`
	CurrentlyBlocked int            `json:"currently_blocked"`
	Counts           map[string]int `json:"violation_counts"`
}

func (e *Engine) Snapshot() Stats {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{Counts: make(map[string]int, len(e.records))}
	for key, state := range e.records {
		stats.Tracked++
		stats.Counts[key] = state.count
		if state.blockedUntil.After(now) {
			stats.CurrentlyBlocked++
		}
	}

	return stats
}
