package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/npai/quota-engine/internal/models"
	"github.com/npai/quota-engine/internal/repository"
)

type AnalyticsService struct {
	keys      *repository.APIKeyRepository
	ledgers   *repository.LedgerRepository
	incidents *repository.IncidentRepository
}

func NewAnalyticsService(keys *repository.APIKeyRepository, ledgers *repository.LedgerRepository, incidents *repository.IncidentRepository) *AnalyticsService {
	return &AnalyticsService{
		keys:      keys,
		ledgers:   ledgers,
		incidents: incidents,
	}
}

// Usage rollup for one API key
type KeyUsage struct {
	KeyID   string               `json:"key_id"`
	Name    string               `json:"name"`
	Tier    string               `json:"tier"`
	Status  string               `json:"status"`
	Ledgers []models.QuotaLedger `json:"ledgers"`
}

// Usage summary for one developer across all their keys
type DeveloperSummary struct {
	DeveloperID     string            `json:"developer_id"`
	From            time.Time         `json:"from"`
	To              time.Time         `json:"to"`
	Keys            []KeyUsage        `json:"keys"`
	TotalRequests   int64             `json:"total_requests"`
	TotalBytes      int64             `json:"total_bytes"`
	IncidentCount   int               `json:"incident_count"`
	RecentIncidents []models.Incident `json:"recent_incidents"`
}

// Retrieves the usage summary for a developer over the last N days
func (s *AnalyticsService) DeveloperSummary(ctx context.Context, developerID string, days int) (*DeveloperSummary, error) {
	if days <= 0 {
		days = 7
	}
	to := time.Now()
	from := to.AddDate(0, 0, -days)

	keys, err := s.keys.ListByDeveloper(ctx, developerID)
	if err != nil {
		return nil, err
	}

	summary := &DeveloperSummary{
		DeveloperID: developerID,
		From:        from,
		To:          to,
	}

	keyIDs := make([]uuid.UUID, 0, len(keys))
	for _, key := range keys {
		keyIDs = append(keyIDs, key.ID)
	}

	ledgers, err := s.ledgers.UsageByKeys(ctx, keyIDs)
	if err != nil {
		return nil, err
	}

	byKey := make(map[uuid.UUID][]models.QuotaLedger)
	for _, ledger := range ledgers {
		byKey[ledger.APIKeyID] = append(byKey[ledger.APIKeyID], ledger)
		if ledger.Period == models.PeriodMonthly {
			summary.TotalRequests += ledger.RequestsUsed
			summary.TotalBytes += ledger.BytesUsed
		}
	}

	for _, key := range keys {
		summary.Keys = append(summary.Keys, KeyUsage{
			KeyID:   key.KeyID,
			Name:    key.Name,
			Tier:    key.Tier,
			Status:  key.Status,
			Ledgers: byKey[key.ID],
		})
	}

	incidents, err := s.incidents.FindByDeveloper(ctx, developerID, from, to, 20, 0)
	if err != nil {
		return nil, err
	}
	summary.RecentIncidents = incidents
	summary.IncidentCount = len(incidents)

	return summary, nil
}

// System-wide block statistics for the status surface
type BlockOverview struct {
	From           time.Time                    `json:"from"`
	To             time.Time                    `json:"to"`
	TotalIncidents int64                        `json:"total_incidents"`
	ByReason       map[string]int64             `json:"by_reason"`
	TopBlocked     []repository.BlockedIdentity `json:"top_blocked"`
}

// Retrieves system-wide block statistics over the last N hours
func (s *AnalyticsService) Overview(ctx context.Context, hours int) (*BlockOverview, error) {
	if hours <= 0 {
		hours = 24
	}
	to := time.Now()
	from := to.Add(-time.Duration(hours) * time.Hour)

	overview := &BlockOverview{From: from, To: to}

	total, err := s.incidents.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	overview.TotalIncidents = total

	byReason, err := s.incidents.CountByReason(ctx, from, to)
	if err != nil {
		return nil, err
	}
	overview.ByReason = byReason

	topBlocked, err := s.incidents.TopBlocked(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	overview.TopBlocked = topBlocked

	return overview, nil
}

// Deletes incidents older than the retention period
func (s *AnalyticsService) CleanupOldIncidents(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return s.incidents.DeleteOld(ctx, cutoff)
}

// StartRetentionLoop periodically prunes incidents past retention.
func (s *AnalyticsService) StartRetentionLoop(ctx context.Context, every time.Duration, retentionDays int) {
	if every <= 0 {
		every = 6 * time.Hour
	}

	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := s.CleanupOldIncidents(ctx, retentionDays)
				if err != nil {
					log.Printf("incident retention cleanup failed: %v", err)
				} else if deleted > 0 {
					log.Printf("incident retention cleanup removed %d rows", deleted)
				}
			}
		}
	}()
}
