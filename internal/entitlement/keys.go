// Package entitlement implements the entitlement state machine: single-use key
// issuance and redemption, whitelist membership, the authorization gate, and the
// per-tenant product catalog. Services here are stateless; every decision reads
// the latest persisted state through the injected stores.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/keygate/keygate/internal/db/models"
	"github.com/keygate/keygate/internal/db/repositories"
	"github.com/keygate/keygate/internal/telemetry"
)

// maxIssueAttempts bounds code regeneration after a collision.
const maxIssueAttempts = 5

// DefaultMaxBatch is used when a KeyManager is built with a non-positive batch limit.
const DefaultMaxBatch = 100

// RedeemResult describes a successful redemption.
type RedeemResult struct {
	Key *models.Key
	// AlreadyRedeemed is set when the caller had redeemed this key before.
	// Nothing was written in that case.
	AlreadyRedeemed bool
}

// KeyManager issues and redeems keys.
type KeyManager struct {
	keys     KeyStore
	maxBatch int

	now     func() time.Time
	newCode func() string
}

// NewKeyManager creates a KeyManager over the given store.
func NewKeyManager(keys KeyStore, maxBatch int) *KeyManager {
	if maxBatch < 1 {
		maxBatch = DefaultMaxBatch
	}
	return &KeyManager{
		keys:     keys,
		maxBatch: maxBatch,
		now:      func() time.Time { return time.Now().UTC() },
		newCode:  GenerateCode,
	}
}

// GenerateCode returns a new upper-case UUIDv4 key code (122 random bits).
func GenerateCode() string {
	return strings.ToUpper(uuid.NewString())
}

// NormalizeCode canonicalizes user input the same way codes are generated.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (m *KeyManager) expiry(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	expiresAt := now.Add(ttl)
	return &expiresAt
}

// Issue creates one key for productID. A positive ttl sets the expiry; zero or
// negative means the key never expires. A colliding code is regenerated, never
// overwritten.
func (m *KeyManager) Issue(ctx context.Context, tenantID, productID string, ttl time.Duration) (*models.Key, error) {
	if err := validateIDs(tenantID, productID); err != nil {
		return nil, err
	}

	now := m.now()
	key := &models.Key{
		TenantID:  tenantID,
		ProductID: productID,
		CreatedAt: now,
		ExpiresAt: m.expiry(now, ttl),
	}

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		key.Code = m.newCode()
		err := m.keys.Create(ctx, key)
		if err == nil {
			telemetry.KeysIssuedTotal.WithLabelValues(productID).Inc()
			slog.Info("key issued",
				"tenant_id", tenantID, "product_id", productID,
				"code", telemetry.RedactCode(key.Code), "expires_at", key.ExpiresAt)
			return key, nil
		}
		if !errors.Is(err, repositories.ErrCodeCollision) {
			return nil, storageError("issue key", err)
		}
		slog.Warn("key code collision, regenerating", "attempt", attempt)
	}

	return nil, storageError("issue key", fmt.Errorf("no unique code after %d attempts", maxIssueAttempts))
}

// IssueBatch creates count keys sharing product and expiry. Collided codes are
// regenerated; the batch fails if any code cannot be placed.
func (m *KeyManager) IssueBatch(ctx context.Context, tenantID, productID string, ttl time.Duration, count int) ([]*models.Key, error) {
	if err := validateIDs(tenantID, productID); err != nil {
		return nil, err
	}
	if count < 1 || count > m.maxBatch {
		return nil, invalid("count must be between 1 and %d", m.maxBatch)
	}

	now := m.now()
	expiresAt := m.expiry(now, ttl)
	keys := make([]*models.Key, 0, count)

	for attempt := 1; len(keys) < count; attempt++ {
		if attempt > maxIssueAttempts {
			return nil, storageError("issue keys", fmt.Errorf("%d codes not placed after %d attempts", count-len(keys), maxIssueAttempts))
		}

		codes := make([]string, count-len(keys))
		for i := range codes {
			codes[i] = m.newCode()
		}
		inserted, err := m.keys.CreateBatch(ctx, tenantID, productID, codes, now, expiresAt)
		if err != nil {
			return nil, storageError("issue keys", err)
		}
		for _, code := range inserted {
			keys = append(keys, &models.Key{
				Code:      code,
				TenantID:  tenantID,
				ProductID: productID,
				CreatedAt: now,
				ExpiresAt: expiresAt,
			})
		}
	}

	telemetry.KeysIssuedTotal.WithLabelValues(productID).Add(float64(len(keys)))
	slog.Info("keys issued", "tenant_id", tenantID, "product_id", productID, "count", len(keys))
	return keys, nil
}

// Lookup returns the stored state of a key within a tenant.
func (m *KeyManager) Lookup(ctx context.Context, tenantID, code string) (*models.Key, error) {
	key, err := m.keys.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, storageError("lookup key", err)
	}
	if key == nil || key.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return key, nil
}

// Redeem claims a key for identity and whitelists identity in the tenant, in one
// transaction. Checks run in this order: the key exists in the tenant, it is for
// productID, it has not expired, and it is unclaimed. Redeeming a key the caller
// already holds succeeds without touching the key; the caller's whitelist entry is
// recreated if it was revoked in the meantime, so a successful redeem always leaves
// the caller whitelisted.
//
// The transaction runs on a context detached from ctx's cancellation, so an
// abandoned request still commits or rolls back cleanly.
func (m *KeyManager) Redeem(ctx context.Context, tenantID, productID, identity, code string) (*RedeemResult, error) {
	code = NormalizeCode(code)
	if err := validateIDs(tenantID, productID); err != nil {
		return nil, err
	}
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, invalid("code is required")
	}

	now := m.now()
	entry := &models.WhitelistEntry{
		TenantID:  tenantID,
		Identity:  identity,
		Source:    models.WhitelistSourceRedeem,
		GrantedAt: now,
	}

	var alreadyRedeemed bool
	check := func(k *models.Key) (repositories.RedeemAction, error) {
		switch {
		case k == nil || k.TenantID != tenantID:
			return repositories.RedeemAbort, ErrNotFound
		case k.ProductID != productID:
			return repositories.RedeemAbort, ErrProductMismatch
		case k.IsExpired(now):
			return repositories.RedeemAbort, ErrExpired
		case k.UsedBy != nil && *k.UsedBy == identity:
			alreadyRedeemed = true
			return repositories.RedeemRestore, nil
		case k.UsedBy != nil:
			return repositories.RedeemAbort, ErrAlreadyUsed
		}
		return repositories.RedeemClaim, nil
	}

	key, err := m.keys.RedeemKey(context.WithoutCancel(ctx), code, check, entry)
	if errors.Is(err, repositories.ErrKeyClaimed) {
		err = ErrAlreadyUsed
	}

	outcome := redeemOutcome(err, alreadyRedeemed)
	telemetry.KeyRedemptionsTotal.WithLabelValues(outcome).Inc()
	logAttrs := []any{
		"tenant_id", tenantID, "product_id", productID, "identity", identity,
		"code", telemetry.RedactCode(code), "outcome", outcome,
	}

	if err != nil {
		if outcome == telemetry.OutcomeError {
			slog.Error("key redemption failed", append(logAttrs, "error", err)...)
			return nil, storageError("redeem key", err)
		}
		slog.Info("key redemption rejected", logAttrs...)
		return nil, err
	}

	if !alreadyRedeemed {
		telemetry.WhitelistChangesTotal.WithLabelValues("redeem").Inc()
	}
	slog.Info("key redeemed", logAttrs...)
	return &RedeemResult{Key: key, AlreadyRedeemed: alreadyRedeemed}, nil
}

func redeemOutcome(err error, alreadyRedeemed bool) string {
	switch {
	case err == nil && alreadyRedeemed:
		return telemetry.OutcomeAlreadyRedeemed
	case err == nil:
		return telemetry.OutcomeSuccess
	case errors.Is(err, ErrNotFound):
		return telemetry.OutcomeNotFound
	case errors.Is(err, ErrProductMismatch):
		return telemetry.OutcomeProductMismatch
	case errors.Is(err, ErrExpired):
		return telemetry.OutcomeExpired
	case errors.Is(err, ErrAlreadyUsed):
		return telemetry.OutcomeAlreadyUsed
	default:
		return telemetry.OutcomeError
	}
}
