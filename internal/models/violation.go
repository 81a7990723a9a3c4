package models

import "time"

// Escalation state for one identity. Rows decay out once the rolling
// window passes without a new violation.
type ViolationRecord struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	IdentityKey           string    `gorm:"uniqueIndex;not null" json:"identity_key"`
	ViolationCount        int       `gorm:"not null;default:0" json:"violation_count"`
	LastViolationAt       time.Time `gorm:"index" json:"last_violation_at"`
	CurrentPenaltySeconds int       `gorm:"not null;default:0" json:"current_penalty_seconds"`
	PenaltyExpiresAt      time.Time `json:"penalty_expires_at"`
}

func (ViolationRecord) TableName() string {
	return "violation_records"
}
