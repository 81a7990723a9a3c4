package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestEvaluator_DeniesPastLimit(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Name: "ip-minute", Scope: "ip", Window: time.Minute, MaxRequests: 10},
	}
	ev := NewEvaluator(NewMemoryStore(), rules)
	identity := Identity{IP: "203.0.113.7"}
	ctx := context.Background()

	for i := 1; i <= 15; i++ {
		d, err := ev.Evaluate(ctx, identity, 1.0)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if i <= 10 {
			if !d.Allowed {
				t.Fatalf("request %d should be allowed", i)
			}
			if d.Remaining != int64(10-i) {
				t.Fatalf("request %d: expected remaining %d, got %d", i, 10-i, d.Remaining)
			}
		} else {
			if d.Allowed {
				t.Fatalf("request %d should be denied", i)
			}
			if d.LimitingRule == nil || d.LimitingRule.Name != "ip-minute" {
				t.Fatalf("request %d: wrong limiting rule %+v", i, d.LimitingRule)
			}
			if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
				t.Fatalf("request %d: bad retry-after %v", i, d.RetryAfter)
			}
		}
	}
}

func TestEvaluator_SkipsInapplicableScopes(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Name: "per-key", Scope: "api_key", Window: time.Minute, MaxRequests: 1},
		{Name: "per-ip", Scope: "ip", Window: time.Minute, MaxRequests: 100},
	}
	ev := NewEvaluator(NewMemoryStore(), rules)
	ctx := context.Background()

	// No API key on the identity, so only the ip rule counts.
	identity := Identity{IP: "203.0.113.8"}
	for i := 0; i < 3; i++ {
		d, err := ev.Evaluate(ctx, identity, 1.0)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied by inapplicable rule", i)
		}
	}
}

func TestEvaluator_DeniesOnTightestRule(t *testing.T) {
	t.Parallel()

	rules := RulesFromConfig(nil)
	if len(rules) != 0 {
		t.Fatalf("expected empty rule set")
	}

	rules = []Rule{
		{Name: "burst", Scope: "burst", Window: 10 * time.Second, MaxRequests: 2},
		{Name: "ip-minute", Scope: "ip", Window: time.Minute, MaxRequests: 100},
	}
	ev := NewEvaluator(NewMemoryStore(), rules)
	identity := Identity{IP: "203.0.113.9"}
	ctx := context.Background()

	var denied *Decision
	for i := 0; i < 4; i++ {
		d, err := ev.Evaluate(ctx, identity, 1.0)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if !d.Allowed {
			denied = &d
			break
		}
	}
	if denied == nil {
		t.Fatalf("burst rule never denied")
	}
	if denied.LimitingRule.Name != "burst" {
		t.Fatalf("expected burst to deny, got %s", denied.LimitingRule.Name)
	}
}

func TestEvaluator_MultiplierShrinksLimit(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Name: "ip-minute", Scope: "ip", Window: time.Minute, MaxRequests: 10},
	}
	ev := NewEvaluator(NewMemoryStore(), rules)
	identity := Identity{IP: "203.0.113.10"}
	ctx := context.Background()

	// 2.0 halves the effective limit to 5.
	allowed := 0
	for i := 0; i < 10; i++ {
		d, err := ev.Evaluate(ctx, identity, 2.0)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if d.Allowed {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("expected 5 allowed under multiplier, got %d", allowed)
	}
}

func TestEvaluator_MultiplierNeverZeroesLimit(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Name: "ip-minute", Scope: "ip", Window: time.Minute, MaxRequests: 2},
	}
	ev := NewEvaluator(NewMemoryStore(), rules)
	ctx := context.Background()

	d, err := ev.Evaluate(ctx, Identity{IP: "203.0.113.11"}, 100.0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("first request must pass even under a huge multiplier")
	}
	if d.Limit != 1 {
		t.Fatalf("expected floor limit 1, got %d", d.Limit)
	}
}
