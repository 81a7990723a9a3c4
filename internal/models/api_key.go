package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// API key lifecycle states. Revoked is terminal.
const (
	KeyStatusActive    = "active"
	KeyStatusSuspended = "suspended"
	KeyStatusRevoked   = "revoked"
)

type APIKey struct {
	ID          uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	KeyID       string     `gorm:"uniqueIndex;not null" json:"key_id"` // non-secret lookup prefix
	SecretHash  string     `gorm:"uniqueIndex;not null" json:"-"`
	Name        string     `gorm:"not null" json:"name"`
	DeveloperID string     `gorm:"index;not null" json:"developer_id"`
	Tier        string     `gorm:"default:'free'" json:"tier"`
	Status      string     `gorm:"default:'active';index" json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

func (a *APIKey) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (APIKey) TableName() string {
	return "api_keys"
}

func (a *APIKey) Usable() bool {
	return a.Status == KeyStatusActive
}
