// product_repository.go implements ProductRepository for the per-tenant catalog.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/keygate/keygate/internal/db/models"
)

const productColumns = `tenant_id, product_id, title, description, color, icon, image_url,
	redeem_role, deliverable_content, deliverable_ref, created_at, updated_at`

// ProductRepository handles product database operations
type ProductRepository struct {
	db *sqlx.DB
}

// NewProductRepository creates a new ProductRepository
func NewProductRepository(db *sqlx.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Get retrieves a product. Returns nil, nil when missing.
func (r *ProductRepository) Get(ctx context.Context, tenantID, productID string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE tenant_id = $1 AND product_id = $2`

	var product models.Product
	err := r.db.GetContext(ctx, &product, query, tenantID, productID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}

// List returns all products of a tenant ordered by product ID
func (r *ProductRepository) List(ctx context.Context, tenantID string) ([]models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE tenant_id = $1 ORDER BY product_id`

	products := make([]models.Product, 0)
	if err := r.db.SelectContext(ctx, &products, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// Upsert writes the full product row. created_at is kept on update; both
// timestamps are read back into p.
func (r *ProductRepository) Upsert(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (tenant_id, product_id, title, description, color, icon, image_url,
		                      redeem_role, deliverable_content, deliverable_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (tenant_id, product_id) DO UPDATE
		SET title = EXCLUDED.title,
		    description = EXCLUDED.description,
		    color = EXCLUDED.color,
		    icon = EXCLUDED.icon,
		    image_url = EXCLUDED.image_url,
		    redeem_role = EXCLUDED.redeem_role,
		    deliverable_content = EXCLUDED.deliverable_content,
		    deliverable_ref = EXCLUDED.deliverable_ref,
		    updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		p.TenantID, p.ProductID, p.Title, p.Description, p.Color, p.Icon, p.ImageURL,
		p.RedeemRole, p.DeliverableContent, p.DeliverableRef, p.UpdatedAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}
