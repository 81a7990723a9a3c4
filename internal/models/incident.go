package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Incident severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Audit record written once per block decision. Never updated.
type Incident struct {
	ID            uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	Timestamp     time.Time  `gorm:"index" json:"timestamp"`
	IdentityKey   string     `gorm:"index" json:"identity_key"`
	IPAddress     string     `json:"ip_address"`
	DeveloperID   string     `gorm:"index" json:"developer_id,omitempty"`
	APIKeyID      *uuid.UUID `gorm:"index" json:"api_key_id,omitempty"`
	Endpoint      string     `json:"endpoint"`
	RuleTriggered string     `json:"rule_triggered"`
	Reason        string     `gorm:"index" json:"reason"`
	Severity      string     `json:"severity"`
	ActionTaken   string     `json:"action_taken"`
}

func (i *Incident) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

func (Incident) TableName() string {
	return "incidents"
}
