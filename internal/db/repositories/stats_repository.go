// Package repositories is the data access layer for the entitlement store.
// Each repository type owns the SQL for one table; services never issue queries directly.
// Point lookups return nil, nil for a missing row so callers decide what absence means.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/keygate/keygate/internal/db/models"
)

// StatsRepository handles reporting queries
type StatsRepository struct {
	db *sqlx.DB
}

// NewStatsRepository creates a new StatsRepository
func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// TenantStats returns all counts for a tenant in one round trip
func (r *StatsRepository) TenantStats(ctx context.Context, tenantID string) (*models.TenantStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM products WHERE tenant_id = $1) AS product_count,
			(SELECT COUNT(*) FROM keys WHERE tenant_id = $1) AS key_count,
			(SELECT COUNT(*) FROM keys WHERE tenant_id = $1 AND used_by IS NOT NULL) AS used_key_count,
			(SELECT COUNT(*) FROM whitelist WHERE tenant_id = $1) AS whitelist_count,
			(SELECT COUNT(*) FROM whitelist_requests WHERE tenant_id = $1) AS pending_request_count
	`

	var stats models.TenantStats
	if err := r.db.GetContext(ctx, &stats, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to get tenant stats: %w", err)
	}
	return &stats, nil
}
