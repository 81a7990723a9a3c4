package repository

import (
	"context"
	"time"

	"github.com/npai/quota-engine/internal/models"
	"github.com/npai/quota-engine/internal/storage"
)

type IncidentRepository struct {
	db *storage.Postgres
}

func NewIncidentRepository(db *storage.Postgres) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Inserts a new incident. Incidents are write-once; there is no
// update path.
func (r *IncidentRepository) Create(ctx context.Context, incident *models.Incident) error {
	return r.db.DB.WithContext(ctx).Create(incident).Error
}

// Retrieves incidents within a time range
func (r *IncidentRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.Incident, error) {
	var incidents []models.Incident

	err := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&incidents).Error

	return incidents, err
}

// Retrieves incidents for a specific developer
func (r *IncidentRepository) FindByDeveloper(ctx context.Context, developerID string, from, to time.Time, limit, offset int) ([]models.Incident, error) {
	var incidents []models.Incident

	err := r.db.DB.WithContext(ctx).
		Where("developer_id = ? AND timestamp BETWEEN ? AND ?", developerID, from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&incidents).Error

	return incidents, err
}

// Counts incidents in a time range
func (r *IncidentRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.Incident{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

// Counts incidents per reason in a time range
func (r *IncidentRepository) CountByReason(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	var rows []struct {
		Reason string
		Count  int64
	}

	err := r.db.DB.WithContext(ctx).
		Model(&models.Incident{}).
		Select("reason, count(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("reason").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Reason] = row.Count
	}
	return counts, nil
}

// BlockedIdentity is one row of the top-blocked rollup.
type BlockedIdentity struct {
	IdentityKey string `json:"identity_key"`
	Count       int64  `json:"count"`
}

// Retrieves the identities with the most block decisions in the range
func (r *IncidentRepository) TopBlocked(ctx context.Context, from, to time.Time, limit int) ([]BlockedIdentity, error) {
	var rows []BlockedIdentity

	err := r.db.DB.WithContext(ctx).
		Model(&models.Incident{}).
		Select("identity_key, count(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("identity_key").
		Order("count DESC").
		Limit(limit).
		Find(&rows).Error

	return rows, err
}

// Deletes incidents older than the retention cutoff
func (r *IncidentRepository) DeleteOld(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.Incident{})

	return result.RowsAffected, result.Error
}
