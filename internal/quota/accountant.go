package quota

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/npai/quota-engine/internal/models"
)

// Cost is the usage a single request charges against its key's tier.
type Cost struct {
	Requests       int64
	Bytes          int64
	ComputeSeconds int64
}

// RequestCost is the minimum charge for one accepted request.
func RequestCost(bytes, computeSeconds int64) Cost {
	return Cost{Requests: 1, Bytes: bytes, ComputeSeconds: computeSeconds}
}

// PeriodCheck pairs an accounting period with its tier ceilings.
type PeriodCheck struct {
	Period string
	Limits models.TierLimits
}

// Exceeded names a period whose ceiling the charge would cross.
type Exceeded struct {
	Period  string
	ResetAt time.Time
}

// LedgerStore applies charges to quota ledgers. Apply must be atomic
// across every period: either all ledgers take the charge or none do,
// and a concurrent caller can never push usage past a ceiling. Rows
// whose period_reset_at has passed are reset in place before charging
// (lazy rollover).
type LedgerStore interface {
	Apply(ctx context.Context, keyID uuid.UUID, cost Cost, checks []PeriodCheck, now time.Time) ([]Exceeded, error)
	Usage(ctx context.Context, keyID uuid.UUID) ([]models.QuotaLedger, error)
}

// Result of a reservation attempt.
type Result struct {
	Allowed    bool
	Period     string // exceeded period when denied
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Accountant tracks cumulative tier usage, independent of the
// short-window rate rules.
type Accountant struct {
	store LedgerStore
}

func NewAccountant(store LedgerStore) *Accountant {
	return &Accountant{store: store}
}

// CheckAndReserve charges cost against the key's daily and monthly
// ledgers. Both must pass; a denial carries the retry hint of the
// period that keeps the caller waiting longest.
func (a *Accountant) CheckAndReserve(ctx context.Context, keyID uuid.UUID, tier models.Tier, cost Cost) (Result, error) {
	now := time.Now()

	checks := []PeriodCheck{
		{Period: models.PeriodDaily, Limits: tier.DailyLimits()},
		{Period: models.PeriodMonthly, Limits: tier.MonthlyLimits()},
	}

	exceeded, err := a.store.Apply(ctx, keyID, cost, checks, now)
	if err != nil {
		return Result{}, err
	}

	if len(exceeded) == 0 {
		return Result{Allowed: true}, nil
	}

	// Longest wait wins so the caller never retries early.
	worst := exceeded[0]
	for _, e := range exceeded[1:] {
		if e.ResetAt.After(worst.ResetAt) {
			worst = e
		}
	}

	retryAfter := worst.ResetAt.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}

	return Result{
		Allowed:    false,
		Period:     worst.Period,
		RetryAfter: retryAfter,
		ResetAt:    worst.ResetAt,
	}, nil
}

// Usage returns the key's current ledgers for the analytics surface.
func (a *Accountant) Usage(ctx context.Context, keyID uuid.UUID) ([]models.QuotaLedger, error) {
	return a.store.Usage(ctx, keyID)
}
