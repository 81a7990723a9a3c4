package repository

import (
	"context"
	"time"

	"github.com/npai/quota-engine/internal/models"
	"github.com/npai/quota-engine/internal/storage"
	"gorm.io/gorm/clause"
)

type ViolationRepository struct {
	db *storage.Postgres
}

func NewViolationRepository(db *storage.Postgres) *ViolationRepository {
	return &ViolationRepository{db: db}
}

func (r *ViolationRepository) Upsert(ctx context.Context, record *models.ViolationRecord) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "identity_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"violation_count",
				"last_violation_at",
				"current_penalty_seconds",
				"penalty_expires_at",
			}),
		}).
		Create(record).Error
}

func (r *ViolationRepository) Delete(ctx context.Context, identityKey string) error {
	return r.db.DB.WithContext(ctx).
		Where("identity_key = ?", identityKey).
		Delete(&models.ViolationRecord{}).Error
}

func (r *ViolationRepository) LoadSince(ctx context.Context, since time.Time) ([]models.ViolationRecord, error) {
	var records []models.ViolationRecord
	err := r.db.DB.WithContext(ctx).
		Where("last_violation_at >= ?", since).
		Find(&records).Error

	return records, err
}
