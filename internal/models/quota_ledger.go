package models

import (
	"time"

	"github.com/google/uuid"
)

// Accounting periods for quota ledgers.
const (
	PeriodDaily   = "daily"
	PeriodMonthly = "monthly"
)

// Cumulative usage for one API key in one accounting period. One row
// exists per (key, period); rollover resets the row in place.
type QuotaLedger struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	APIKeyID           uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_ledger_key_period;not null" json:"api_key_id"`
	Period             string    `gorm:"uniqueIndex:idx_ledger_key_period;not null" json:"period"`
	RequestsUsed       int64     `gorm:"not null;default:0" json:"requests_used"`
	BytesUsed          int64     `gorm:"not null;default:0" json:"bytes_used"`
	ComputeSecondsUsed int64     `gorm:"not null;default:0" json:"compute_seconds_used"`
	PeriodResetAt      time.Time `gorm:"not null" json:"period_reset_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (QuotaLedger) TableName() string {
	return "quota_ledgers"
}

// NextReset returns the boundary that ends the period containing now.
func NextReset(period string, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	default:
		return now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}
