// whitelist_repository.go implements WhitelistRepository and WhitelistRequestRepository.
// Both tables are keyed by (tenant_id, identity) and written with upserts, so repeated
// grants or requests never duplicate a row.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/keygate/keygate/internal/db/models"
)

// WhitelistRepository handles whitelist entry database operations
type WhitelistRepository struct {
	db *sqlx.DB
}

// NewWhitelistRepository creates a new WhitelistRepository
func NewWhitelistRepository(db *sqlx.DB) *WhitelistRepository {
	return &WhitelistRepository{db: db}
}

// Upsert creates or overwrites the entry for (tenant, identity)
func (r *WhitelistRepository) Upsert(ctx context.Context, entry *models.WhitelistEntry) error {
	_, err := r.db.ExecContext(ctx, upsertWhitelistQuery,
		entry.TenantID, entry.Identity, entry.ExternalRef, entry.Source, entry.GrantedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert whitelist entry: %w", err)
	}
	return nil
}

// Delete removes the entry for (tenant, identity). It reports whether a row existed.
func (r *WhitelistRepository) Delete(ctx context.Context, tenantID, identity string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM whitelist WHERE tenant_id = $1 AND identity = $2`,
		tenantID, identity,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete whitelist entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete whitelist entry: %w", err)
	}
	return rows > 0, nil
}

// Get retrieves the entry for (tenant, identity). Returns nil, nil when missing.
func (r *WhitelistRepository) Get(ctx context.Context, tenantID, identity string) (*models.WhitelistEntry, error) {
	query := `
		SELECT tenant_id, identity, external_ref, source, granted_at
		FROM whitelist
		WHERE tenant_id = $1 AND identity = $2
	`

	var entry models.WhitelistEntry
	err := r.db.GetContext(ctx, &entry, query, tenantID, identity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get whitelist entry: %w", err)
	}
	return &entry, nil
}

// Exists reports whether (tenant, identity) has an entry
func (r *WhitelistRepository) Exists(ctx context.Context, tenantID, identity string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM whitelist WHERE tenant_id = $1 AND identity = $2)`,
		tenantID, identity,
	)
	if err != nil {
		return false, fmt.Errorf("failed to check whitelist entry: %w", err)
	}
	return exists, nil
}

// Count returns the number of entries in a tenant
func (r *WhitelistRepository) Count(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM whitelist WHERE tenant_id = $1`, tenantID); err != nil {
		return 0, fmt.Errorf("failed to count whitelist entries: %w", err)
	}
	return count, nil
}

// WhitelistRequestRepository handles pending whitelist request database operations
type WhitelistRequestRepository struct {
	db *sqlx.DB
}

// NewWhitelistRequestRepository creates a new WhitelistRequestRepository
func NewWhitelistRequestRepository(db *sqlx.DB) *WhitelistRequestRepository {
	return &WhitelistRequestRepository{db: db}
}

// Upsert records a request, overwriting any earlier request for (tenant, identity)
func (r *WhitelistRequestRepository) Upsert(ctx context.Context, req *models.WhitelistRequest) error {
	query := `
		INSERT INTO whitelist_requests (tenant_id, identity, external_ref, requested_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, identity) DO UPDATE
		SET external_ref = EXCLUDED.external_ref,
		    requested_at = EXCLUDED.requested_at
	`

	if _, err := r.db.ExecContext(ctx, query, req.TenantID, req.Identity, req.ExternalRef, req.RequestedAt); err != nil {
		return fmt.Errorf("failed to upsert whitelist request: %w", err)
	}
	return nil
}

// Count returns the number of pending requests in a tenant
func (r *WhitelistRequestRepository) Count(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM whitelist_requests WHERE tenant_id = $1`, tenantID); err != nil {
		return 0, fmt.Errorf("failed to count whitelist requests: %w", err)
	}
	return count, nil
}

// List returns a page of pending requests, newest first
func (r *WhitelistRequestRepository) List(ctx context.Context, tenantID string, limit, offset int) ([]models.WhitelistRequest, error) {
	query := `
		SELECT tenant_id, identity, external_ref, requested_at
		FROM whitelist_requests
		WHERE tenant_id = $1
		ORDER BY requested_at DESC, identity
		LIMIT $2 OFFSET $3
	`

	requests := make([]models.WhitelistRequest, 0)
	if err := r.db.SelectContext(ctx, &requests, query, tenantID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list whitelist requests: %w", err)
	}
	return requests, nil
}
