package behavior

import (
	"fmt"
	"testing"
	"time"
)

func TestScorer_NewSessionIsBenign(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(Config{})
	got := scorer.Score("ip:1.1.1.1", Features{Endpoint: "/v1/orders", UserAgent: "curl/8.0"})
	if got != 1.0 {
		t.Fatalf("expected neutral multiplier, got %v", got)
	}
}

func TestScorer_RapidFireRaisesMultiplier(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(Config{})

	var got float64
	for i := 0; i < 32; i++ {
		got = scorer.Score("ip:2.2.2.2", Features{Endpoint: "/v1/orders", UserAgent: "curl/8.0"})
	}

	// Sustained sub-50ms cadence trips the timing factor.
	if got <= 1.0 {
		t.Fatalf("expected elevated multiplier, got %v", got)
	}
	if got > 4.0 {
		t.Fatalf("multiplier above ceiling: %v", got)
	}
}

func TestScorer_ParamProbingRaisesMultiplier(t *testing.T) {
	t.Parallel()

	// Large sample so slow-loop timing noise can't trip the timing factor.
	scorer := NewScorer(Config{SampleSize: 4})

	baseline := NewScorer(Config{SampleSize: 4})
	var probed, repeated float64
	for i := 0; i < 20; i++ {
		probed = scorer.Score("key:k1", Features{
			Endpoint:  "/v1/search",
			ParamHash: fmt.Sprintf("sig-%d", i),
			UserAgent: "curl/8.0",
		})
		repeated = baseline.Score("key:k2", Features{
			Endpoint:  "/v1/search",
			ParamHash: "sig-constant",
			UserAgent: "curl/8.0",
		})
	}

	if probed <= repeated {
		t.Fatalf("probing (%v) should score above repetition (%v)", probed, repeated)
	}
}

func TestScorer_UserAgentChurnRaisesMultiplier(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(Config{SampleSize: 4})

	var got float64
	for i := 0; i < 6; i++ {
		got = scorer.Score("user:u1", Features{
			Endpoint:  "/v1/orders",
			UserAgent: fmt.Sprintf("agent-%d", i),
		})
	}

	if got < 1.8 {
		t.Fatalf("expected agent churn to raise multiplier, got %v", got)
	}
}

func TestScorer_MultiplierCapped(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(Config{MaxMultiplier: 4.0})

	var got float64
	for i := 0; i < 64; i++ {
		got = scorer.Score("ip:3.3.3.3", Features{
			Endpoint:  "/v1/search",
			ParamHash: fmt.Sprintf("sig-%d", i),
			UserAgent: fmt.Sprintf("agent-%d", i%8),
		})
	}

	if got != 4.0 {
		t.Fatalf("expected capped multiplier 4.0, got %v", got)
	}
}

func TestScorer_SweepEvictsIdleSessions(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(Config{IdleTTL: 10 * time.Millisecond})
	scorer.Score("ip:4.4.4.4", Features{Endpoint: "/v1/orders"})

	time.Sleep(20 * time.Millisecond)
	scorer.Score("ip:5.5.5.5", Features{Endpoint: "/v1/orders"})

	if evicted := scorer.Sweep(); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
}
