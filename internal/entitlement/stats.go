package entitlement

import (
	"context"

	"github.com/keygate/keygate/internal/db/models"
)

// StatsReporter reads per-tenant aggregate counts.
type StatsReporter struct {
	stats StatsStore
}

// NewStatsReporter creates a StatsReporter.
func NewStatsReporter(stats StatsStore) *StatsReporter {
	return &StatsReporter{stats: stats}
}

// Stats returns the tenant's product, key, whitelist and pending request counts.
func (s *StatsReporter) Stats(ctx context.Context, tenantID string) (*models.TenantStats, error) {
	st, err := s.stats.TenantStats(ctx, tenantID)
	if err != nil {
		return nil, storageError("tenant stats", err)
	}
	return st, nil
}
