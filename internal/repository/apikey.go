package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/npai/quota-engine/internal/models"
	"github.com/npai/quota-engine/internal/storage"
	"gorm.io/gorm"
)

// APIKeyRepository persists key records. Lookup methods return
// nil without error when nothing matches.
type APIKeyRepository struct {
	db *storage.Postgres
}

func NewAPIKeyRepository(db *storage.Postgres) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	return r.db.DB.WithContext(ctx).Create(key).Error
}

// FindByHash looks the key up regardless of status; the registry
// decides what an inactive key means for the caller.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	var key models.APIKey
	err := r.db.DB.WithContext(ctx).Where("secret_hash = ?", hash).First(&key).Error
	return oneKey(&key, err)
}

func (r *APIKeyRepository) FindByID(ctx context.Context, id string) (*models.APIKey, error) {
	var key models.APIKey
	err := r.db.DB.WithContext(ctx).Where("id = ?", id).First(&key).Error
	return oneKey(&key, err)
}

func (r *APIKeyRepository) List(ctx context.Context) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := r.db.DB.WithContext(ctx).Order("created_at DESC").Find(&keys).Error
	return keys, err
}

func (r *APIKeyRepository) ListByDeveloper(ctx context.Context, developerID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("developer_id = ?", developerID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}

func (r *APIKeyRepository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.db.DB.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).Update("status", status).Error
}

func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID) error {
	return r.db.DB.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).Update("last_used_at", time.Now()).Error
}

func (r *APIKeyRepository) CountByTier(ctx context.Context, tier string) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).Model(&models.APIKey{}).
		Where("tier = ? AND status = ?", tier, models.KeyStatusActive).
		Count(&count).Error
	return count, err
}

func oneKey(key *models.APIKey, err error) (*models.APIKey, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}
