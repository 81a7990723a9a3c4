package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of evaluating every applicable rule.
type Decision struct {
	Allowed      bool
	LimitingRule *Rule // rule that denied, or the tightest passing rule
	Limit        int64
	Remaining    int64
	RetryAfter   time.Duration
	Reset        time.Time
}

// Evaluator runs layered fixed-window checks against the counter
// store. Windows are fixed buckets; up to 2x burst at a boundary is an
// accepted trade-off over sliding-window logs.
type Evaluator struct {
	store Store
	rules []Rule
}

func NewEvaluator(store Store, rules []Rule) *Evaluator {
	return &Evaluator{store: store, rules: rules}
}

// Evaluate increments every applicable rule counter in priority order
// and denies on the first exceeded rule. multiplier >= 1.0 shrinks the
// effective limits (behavioral tightening); pass 1.0 for none.
func (e *Evaluator) Evaluate(ctx context.Context, identity Identity, multiplier float64) (Decision, error) {
	if multiplier < 1.0 {
		multiplier = 1.0
	}
	now := time.Now()

	decision := Decision{Allowed: true, Remaining: -1}

	for i := range e.rules {
		rule := &e.rules[i]

		subject, ok := identity.Subject(rule.Scope)
		if !ok {
			continue
		}

		limit := int64(float64(rule.MaxRequests) / multiplier)
		if limit < 1 {
			limit = 1
		}

		bucket := now.Unix() / int64(rule.Window.Seconds())
		key := fmt.Sprintf("rl:%s:%s:%d", rule.Scope, subject, bucket)
		ttl := time.Unix((bucket+1)*int64(rule.Window.Seconds()), 0).Sub(now)

		count, remainingTTL, err := e.store.Incr(ctx, key, ttl)
		if err != nil {
			return Decision{}, fmt.Errorf("rule %s: %w", rule.Name, err)
		}

		if count > limit {
			return Decision{
				Allowed:      false,
				LimitingRule: rule,
				Limit:        limit,
				Remaining:    0,
				RetryAfter:   remainingTTL,
				Reset:        now.Add(remainingTTL),
			}, nil
		}

		remaining := limit - count
		if decision.Remaining < 0 || remaining < decision.Remaining {
			decision.LimitingRule = rule
			decision.Limit = limit
			decision.Remaining = remaining
			decision.Reset = now.Add(remainingTTL)
		}
	}

	if decision.Remaining < 0 {
		decision.Remaining = 0
	}

	return decision, nil
}

// Rules returns the evaluation-ordered rule set.
func (e *Evaluator) Rules() []Rule {
	return e.rules
}
