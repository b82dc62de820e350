// key_repository.go implements KeyRepository: key creation with no-overwrite semantics,
// point lookup, the transactional redemption, and the expired-key sweep.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/keygate/keygate/internal/db/models"
	"github.com/lib/pq"
)

var (
	// ErrCodeCollision is returned when a key code is already stored. The stored key is left untouched.
	ErrCodeCollision = errors.New("key code already exists")

	// ErrKeyClaimed is returned when the compare-and-set on used_by finds the key already redeemed.
	ErrKeyClaimed = errors.New("key already claimed")
)

const keyColumns = `code, tenant_id, product_id, created_at, expires_at, used_by, used_at`

const upsertWhitelistQuery = `
	INSERT INTO whitelist (tenant_id, identity, external_ref, source, granted_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (tenant_id, identity) DO UPDATE
	SET external_ref = EXCLUDED.external_ref,
	    source = EXCLUDED.source,
	    granted_at = EXCLUDED.granted_at
`

// insertWhitelistIfMissingQuery restores an entry for a key's holder without
// touching an entry that already exists.
const insertWhitelistIfMissingQuery = `
	INSERT INTO whitelist (tenant_id, identity, external_ref, source, granted_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (tenant_id, identity) DO NOTHING
`

// RedeemAction tells RedeemKey what to write after inspecting the locked row.
type RedeemAction int

const (
	// RedeemAbort ends the transaction without writing.
	RedeemAbort RedeemAction = iota
	// RedeemClaim sets used_by/used_at and upserts the whitelist entry.
	RedeemClaim
	// RedeemRestore leaves the key alone and inserts the holder's whitelist
	// entry if it is missing.
	RedeemRestore
)

// RedeemCheck inspects the locked key row, which is nil when no key has the code.
// A non-nil error ends the transaction without writing.
type RedeemCheck func(key *models.Key) (RedeemAction, error)

// KeyRepository handles key database operations
type KeyRepository struct {
	db *sqlx.DB
}

// NewKeyRepository creates a new KeyRepository
func NewKeyRepository(db *sqlx.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// Create inserts a key. An existing key with the same code is never overwritten;
// ErrCodeCollision is returned instead.
func (r *KeyRepository) Create(ctx context.Context, key *models.Key) error {
	query := `
		INSERT INTO keys (code, tenant_id, product_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, key.Code, key.TenantID, key.ProductID, key.CreatedAt, key.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}
	if rows == 0 {
		return ErrCodeCollision
	}
	return nil
}

// CreateBatch inserts keys sharing tenant, product and expiry in one statement.
// It returns the codes that were inserted; codes missing from the result collided
// with stored keys and were skipped.
func (r *KeyRepository) CreateBatch(ctx context.Context, tenantID, productID string, codes []string, createdAt time.Time, expiresAt *time.Time) ([]string, error) {
	query := `
		INSERT INTO keys (code, tenant_id, product_id, created_at, expires_at)
		SELECT code, $2, $3, $4, $5 FROM unnest($1::text[]) AS code
		ON CONFLICT (code) DO NOTHING
		RETURNING code
	`

	var inserted []string
	if err := r.db.SelectContext(ctx, &inserted, query, pq.Array(codes), tenantID, productID, createdAt, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to create keys: %w", err)
	}
	return inserted, nil
}

// GetByCode retrieves a key by its code. Returns nil, nil when missing.
func (r *KeyRepository) GetByCode(ctx context.Context, code string) (*models.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM keys WHERE code = $1`

	var key models.Key
	err := r.db.GetContext(ctx, &key, query, code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return &key, nil
}

// RedeemKey runs a redemption as one transaction. The key row is locked and handed
// to check. On RedeemClaim the key is claimed with a compare-and-set on used_by and
// entry is upserted into the whitelist; both writes commit together or not at all.
// On RedeemRestore only a missing whitelist entry is inserted. The returned key
// reflects the row as seen (and updated) inside the transaction; it is nil when no
// key has the code.
func (r *KeyRepository) RedeemKey(ctx context.Context, code string, check RedeemCheck, entry *models.WhitelistEntry) (*models.Key, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin redemption: %w", err)
	}
	defer tx.Rollback()

	var locked models.Key
	var key *models.Key
	err = tx.GetContext(ctx, &locked, `SELECT `+keyColumns+` FROM keys WHERE code = $1 FOR UPDATE`, code)
	switch {
	case err == nil:
		key = &locked
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("failed to lock key: %w", err)
	}

	action, err := check(key)
	if err != nil {
		return key, err
	}
	switch action {
	case RedeemClaim:
	case RedeemRestore:
		if _, err := tx.ExecContext(ctx, insertWhitelistIfMissingQuery,
			entry.TenantID, entry.Identity, entry.ExternalRef, entry.Source, entry.GrantedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to restore whitelist entry: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit redemption: %w", err)
		}
		return key, nil
	default:
		return key, nil
	}

	usedAt := entry.GrantedAt
	result, err := tx.ExecContext(ctx,
		`UPDATE keys SET used_by = $1, used_at = $2 WHERE code = $3 AND used_by IS NULL`,
		entry.Identity, usedAt, code,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to claim key: %w", err)
	}
	if rows == 0 {
		return key, ErrKeyClaimed
	}

	if _, err := tx.ExecContext(ctx, upsertWhitelistQuery,
		entry.TenantID, entry.Identity, entry.ExternalRef, entry.Source, entry.GrantedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to record whitelist entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit redemption: %w", err)
	}

	identity := entry.Identity
	key.UsedBy = &identity
	key.UsedAt = &usedAt
	return key, nil
}

// DeleteExpiredUnused removes unused keys whose expiry is before the cutoff.
// Redeemed keys are kept regardless of expiry.
func (r *KeyRepository) DeleteExpiredUnused(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM keys
		WHERE used_by IS NULL
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired keys: %w", err)
	}
	return result.RowsAffected()
}
