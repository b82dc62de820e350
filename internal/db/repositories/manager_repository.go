// manager_repository.go implements ManagerRepository. Grants are per tenant; a grant
// under models.AllTenants applies to every tenant.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/keygate/keygate/internal/db/models"
	"github.com/lib/pq"
)

// ManagerRepository handles manager grant database operations
type ManagerRepository struct {
	db *sqlx.DB
}

// NewManagerRepository creates a new ManagerRepository
func NewManagerRepository(db *sqlx.DB) *ManagerRepository {
	return &ManagerRepository{db: db}
}

func tenantScope(tenantID string) interface{} {
	return pq.Array([]string{tenantID, models.AllTenants})
}

// Grant creates or refreshes a manager grant
func (r *ManagerRepository) Grant(ctx context.Context, g *models.ManagerGrant) error {
	query := `
		INSERT INTO managers (tenant_id, identity, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, identity) DO UPDATE
		SET granted_by = EXCLUDED.granted_by,
		    granted_at = EXCLUDED.granted_at
	`

	if _, err := r.db.ExecContext(ctx, query, g.TenantID, g.Identity, g.GrantedBy, g.GrantedAt); err != nil {
		return fmt.Errorf("failed to grant manager: %w", err)
	}
	return nil
}

// Revoke removes the grant for exactly (tenant, identity)
func (r *ManagerRepository) Revoke(ctx context.Context, tenantID, identity string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM managers WHERE tenant_id = $1 AND identity = $2`,
		tenantID, identity,
	); err != nil {
		return fmt.Errorf("failed to revoke manager: %w", err)
	}
	return nil
}

// IsManager reports whether identity holds a grant for tenantID or for all tenants
func (r *ManagerRepository) IsManager(ctx context.Context, tenantID, identity string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM managers WHERE identity = $1 AND tenant_id = ANY($2))`,
		identity, tenantScope(tenantID),
	)
	if err != nil {
		return false, fmt.Errorf("failed to check manager grant: %w", err)
	}
	return exists, nil
}

// List returns the grants that apply to tenantID, including all-tenant grants
func (r *ManagerRepository) List(ctx context.Context, tenantID string) ([]models.ManagerGrant, error) {
	query := `
		SELECT tenant_id, identity, granted_by, granted_at
		FROM managers
		WHERE tenant_id = ANY($1)
		ORDER BY granted_at, identity
	`

	grants := make([]models.ManagerGrant, 0)
	if err := r.db.SelectContext(ctx, &grants, query, tenantScope(tenantID)); err != nil {
		return nil, fmt.Errorf("failed to list managers: %w", err)
	}
	return grants, nil
}
