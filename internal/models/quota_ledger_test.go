package models

import (
	"testing"
	"time"
)

func TestNextReset(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 15, 13, 45, 12, 0, time.UTC)

	daily := NextReset(PeriodDaily, now)
	if want := time.Date(2025, time.March, 16, 0, 0, 0, 0, time.UTC); !daily.Equal(want) {
		t.Fatalf("daily reset: expected %v, got %v", want, daily)
	}

	monthly := NextReset(PeriodMonthly, now)
	if want := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC); !monthly.Equal(want) {
		t.Fatalf("monthly reset: expected %v, got %v", want, monthly)
	}
}

func TestNextReset_MonthBoundary(t *testing.T) {
	t.Parallel()

	// December rolls into January of the next year.
	now := time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC)
	monthly := NextReset(PeriodMonthly, now)
	if want := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC); !monthly.Equal(want) {
		t.Fatalf("expected %v, got %v", want, monthly)
	}
}

func TestAPIKeyUsable(t *testing.T) {
	t.Parallel()

	for status, want := range map[string]bool{
		KeyStatusActive:    true,
		KeyStatusSuspended: false,
		KeyStatusRevoked:   false,
	} {
		key := APIKey{Status: status}
		if key.Usable() != want {
			t.Fatalf("status %s: expected usable=%v", status, want)
		}
	}
}
