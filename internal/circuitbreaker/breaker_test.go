package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend failure")

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb := New(Config{MaxFailures: 3, Timeout: time.Hour})
	fail := func() error { return errBackend }

	for i := 0; i < 3; i++ {
		if err := cb.Call(fail); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: expected backend error, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	if err := cb.Call(fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	t.Parallel()

	cb := New(Config{MaxFailures: 2, Timeout: time.Hour})

	if err := cb.Call(func() error { return errBackend }); err == nil {
		t.Fatalf("expected error")
	}
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cb.Call(func() error { return errBackend }); !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
	// Non-consecutive failures never open the circuit.
	if cb.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", cb.State())
	}
}

func TestBreaker_ProbesAfterTimeout(t *testing.T) {
	t.Parallel()

	cb := New(Config{MaxFailures: 1, Timeout: 20 * time.Millisecond})

	if err := cb.Call(func() error { return errBackend }); err == nil {
		t.Fatalf("expected error")
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open state")
	}

	time.Sleep(30 * time.Millisecond)

	// Probe succeeds, circuit closes.
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()

	cb := New(Config{MaxFailures: 1, Timeout: 20 * time.Millisecond})

	if err := cb.Call(func() error { return errBackend }); err == nil {
		t.Fatalf("expected error")
	}
	time.Sleep(30 * time.Millisecond)

	if err := cb.Call(func() error { return errBackend }); !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("failed probe should reopen the circuit, got %s", cb.State())
	}
	if err := cb.Call(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen right after failed probe, got %v", err)
	}
}

func TestBreaker_ResetForcesClosed(t *testing.T) {
	t.Parallel()

	cb := New(Config{MaxFailures: 1, Timeout: time.Hour})
	if err := cb.Call(func() error { return errBackend }); err == nil {
		t.Fatalf("expected error")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after reset")
	}
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("call after reset: %v", err)
	}
}
