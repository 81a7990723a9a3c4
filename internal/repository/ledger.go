package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/npai/quota-engine/internal/models"
	"github.com/npai/quota-engine/internal/quota"
	"github.com/npai/quota-engine/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Rollback sentinel: the reservation failed a ceiling, discard any
// period already charged in this transaction.
var errQuotaDenied = errors.New("quota denied")

type LedgerRepository struct {
	db *storage.Postgres
}

func NewLedgerRepository(db *storage.Postgres) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Apply charges cost against every period inside one transaction. Row
// locks serialize concurrent charges per (key, period), so usage can
// never pass a ceiling. Either all periods take the charge or none do.
func (r *LedgerRepository) Apply(ctx context.Context, keyID uuid.UUID, cost quota.Cost, checks []quota.PeriodCheck, now time.Time) ([]quota.Exceeded, error) {
	var exceeded []quota.Exceeded

	err := r.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, check := range checks {
			ledger, err := r.lockedLedger(tx, keyID, check.Period, now)
			if err != nil {
				return err
			}

			// Lazy rollover: reset the row in place once its period
			// boundary has passed.
			if !ledger.PeriodResetAt.After(now) {
				resetAt := models.NextReset(check.Period, now)
				err := tx.Model(ledger).Updates(map[string]interface{}{
					"requests_used":        0,
					"bytes_used":           0,
					"compute_seconds_used": 0,
					"period_reset_at":      resetAt,
				}).Error
				if err != nil {
					return err
				}
				ledger.RequestsUsed = 0
				ledger.BytesUsed = 0
				ledger.ComputeSecondsUsed = 0
				ledger.PeriodResetAt = resetAt
			}

			if overLimit(ledger, cost, check.Limits) {
				exceeded = append(exceeded, quota.Exceeded{
					Period:  check.Period,
					ResetAt: ledger.PeriodResetAt,
				})
				continue
			}

			err = tx.Model(ledger).Updates(map[string]interface{}{
				"requests_used":        gorm.Expr("requests_used + ?", cost.Requests),
				"bytes_used":           gorm.Expr("bytes_used + ?", cost.Bytes),
				"compute_seconds_used": gorm.Expr("compute_seconds_used + ?", cost.ComputeSeconds),
			}).Error
			if err != nil {
				return err
			}
		}

		if len(exceeded) > 0 {
			return errQuotaDenied
		}
		return nil
	})

	if errors.Is(err, errQuotaDenied) {
		return exceeded, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// lockedLedger fetches the (key, period) row under FOR UPDATE,
// creating it on first use.
func (r *LedgerRepository) lockedLedger(tx *gorm.DB, keyID uuid.UUID, period string, now time.Time) (*models.QuotaLedger, error) {
	var ledger models.QuotaLedger
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("api_key_id = ? AND period = ?", keyID, period).
		First(&ledger).Error

	if err == nil {
		return &ledger, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := models.QuotaLedger{
		APIKeyID:      keyID,
		Period:        period,
		PeriodResetAt: models.NextReset(period, now),
	}
	err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error
	if err != nil {
		return nil, err
	}

	// Re-read under the lock; a concurrent creator may have won.
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("api_key_id = ? AND period = ?", keyID, period).
		First(&ledger).Error
	if err != nil {
		return nil, err
	}
	return &ledger, nil
}

func overLimit(ledger *models.QuotaLedger, cost quota.Cost, limits models.TierLimits) bool {
	if limits.Requests > 0 && ledger.RequestsUsed+cost.Requests > limits.Requests {
		return true
	}
	if limits.Bytes > 0 && ledger.BytesUsed+cost.Bytes > limits.Bytes {
		return true
	}
	if limits.ComputeSeconds > 0 && ledger.ComputeSecondsUsed+cost.ComputeSeconds > limits.ComputeSeconds {
		return true
	}
	return false
}

func (r *LedgerRepository) Usage(ctx context.Context, keyID uuid.UUID) ([]models.QuotaLedger, error) {
	var ledgers []models.QuotaLedger
	err := r.db.DB.WithContext(ctx).
		Where("api_key_id = ?", keyID).
		Order("period ASC").
		Find(&ledgers).Error

	return ledgers, err
}

// UsageByKeys fetches ledgers for a set of keys in one query, for the
// per-developer analytics rollup.
func (r *LedgerRepository) UsageByKeys(ctx context.Context, keyIDs []uuid.UUID) ([]models.QuotaLedger, error) {
	if len(keyIDs) == 0 {
		return nil, nil
	}

	var ledgers []models.QuotaLedger
	err := r.db.DB.WithContext(ctx).
		Where("api_key_id IN ?", keyIDs).
		Find(&ledgers).Error

	return ledgers, err
}
