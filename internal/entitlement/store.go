package entitlement

import (
	"context"
	"time"

	"github.com/keygate/keygate/internal/db/models"
	"github.com/keygate/keygate/internal/db/repositories"
)

// KeyStore persists keys. *repositories.KeyRepository implements it.
type KeyStore interface {
	Create(ctx context.Context, key *models.Key) error
	CreateBatch(ctx context.Context, tenantID, productID string, codes []string, createdAt time.Time, expiresAt *time.Time) ([]string, error)
	GetByCode(ctx context.Context, code string) (*models.Key, error)
	RedeemKey(ctx context.Context, code string, check repositories.RedeemCheck, entry *models.WhitelistEntry) (*models.Key, error)
}

// WhitelistStore persists whitelist entries. *repositories.WhitelistRepository implements it.
type WhitelistStore interface {
	Upsert(ctx context.Context, entry *models.WhitelistEntry) error
	Delete(ctx context.Context, tenantID, identity string) (bool, error)
	Get(ctx context.Context, tenantID, identity string) (*models.WhitelistEntry, error)
	Exists(ctx context.Context, tenantID, identity string) (bool, error)
	Count(ctx context.Context, tenantID string) (int64, error)
}

// RequestStore persists pending whitelist requests.
type RequestStore interface {
	Upsert(ctx context.Context, req *models.WhitelistRequest) error
	Count(ctx context.Context, tenantID string) (int64, error)
	List(ctx context.Context, tenantID string, limit, offset int) ([]models.WhitelistRequest, error)
}

// ProductStore persists catalog entries.
type ProductStore interface {
	Get(ctx context.Context, tenantID, productID string) (*models.Product, error)
	List(ctx context.Context, tenantID string) ([]models.Product, error)
	Upsert(ctx context.Context, p *models.Product) error
}

// ManagerStore persists manager grants.
type ManagerStore interface {
	Grant(ctx context.Context, g *models.ManagerGrant) error
	Revoke(ctx context.Context, tenantID, identity string) error
	IsManager(ctx context.Context, tenantID, identity string) (bool, error)
	List(ctx context.Context, tenantID string) ([]models.ManagerGrant, error)
}

// StatsStore computes per-tenant aggregates.
type StatsStore interface {
	TenantStats(ctx context.Context, tenantID string) (*models.TenantStats, error)
}

// Compile-time checks that the repositories satisfy the store contracts.
var (
	_ KeyStore       = (*repositories.KeyRepository)(nil)
	_ WhitelistStore = (*repositories.WhitelistRepository)(nil)
	_ RequestStore   = (*repositories.WhitelistRequestRepository)(nil)
	_ ProductStore   = (*repositories.ProductRepository)(nil)
	_ ManagerStore   = (*repositories.ManagerRepository)(nil)
	_ StatsStore     = (*repositories.StatsRepository)(nil)
)
