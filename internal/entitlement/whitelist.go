package entitlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/keygate/keygate/internal/db/models"
	"github.com/keygate/keygate/internal/storage"
	"github.com/keygate/keygate/internal/telemetry"
)

// maxRequestPage caps ListRequests page sizes.
const maxRequestPage = 100

// WhitelistManager maintains whitelist membership and pending whitelist requests.
type WhitelistManager struct {
	entries  WhitelistStore
	requests RequestStore
	products ProductStore
	blobs    storage.Storage // nil when deliverables are only stored inline

	now func() time.Time
}

// NewWhitelistManager creates a WhitelistManager. blobs may be nil.
func NewWhitelistManager(entries WhitelistStore, requests RequestStore, products ProductStore, blobs storage.Storage) *WhitelistManager {
	return &WhitelistManager{
		entries:  entries,
		requests: requests,
		products: products,
		blobs:    blobs,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Grant whitelists identity in tenantID. Granting an already whitelisted
// identity refreshes its external reference and grant time.
func (w *WhitelistManager) Grant(ctx context.Context, tenantID, identity, externalRef string) (*models.WhitelistEntry, error) {
	if err := validateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}

	entry := &models.WhitelistEntry{
		TenantID:    tenantID,
		Identity:    identity,
		ExternalRef: externalRef,
		Source:      models.WhitelistSourceGrant,
		GrantedAt:   w.now(),
	}
	if err := w.entries.Upsert(ctx, entry); err != nil {
		return nil, storageError("grant whitelist", err)
	}

	telemetry.WhitelistChangesTotal.WithLabelValues("grant").Inc()
	slog.Info("whitelist granted", "tenant_id", tenantID, "identity", identity)
	return entry, nil
}

// Revoke removes identity from the whitelist. Revoking an identity that is not
// whitelisted is a no-op; the return value reports whether an entry existed.
// Keys already redeemed by the identity stay redeemed.
func (w *WhitelistManager) Revoke(ctx context.Context, tenantID, identity string) (bool, error) {
	removed, err := w.entries.Delete(ctx, tenantID, identity)
	if err != nil {
		return false, storageError("revoke whitelist", err)
	}
	if removed {
		telemetry.WhitelistChangesTotal.WithLabelValues("revoke").Inc()
		slog.Info("whitelist revoked", "tenant_id", tenantID, "identity", identity)
	}
	return removed, nil
}

// IsWhitelisted reports whether identity currently holds a whitelist entry.
func (w *WhitelistManager) IsWhitelisted(ctx context.Context, tenantID, identity string) (bool, error) {
	ok, err := w.entries.Exists(ctx, tenantID, identity)
	if err != nil {
		return false, storageError("check whitelist", err)
	}
	return ok, nil
}

// GetEntry returns identity's whitelist entry, or ErrNotWhitelisted.
func (w *WhitelistManager) GetEntry(ctx context.Context, tenantID, identity string) (*models.WhitelistEntry, error) {
	entry, err := w.entries.Get(ctx, tenantID, identity)
	if err != nil {
		return nil, storageError("get whitelist entry", err)
	}
	if entry == nil {
		return nil, ErrNotWhitelisted
	}
	return entry, nil
}

// FetchDeliverable returns the product's deliverable content for a whitelisted
// identity. Offloaded content is read from the blob store.
func (w *WhitelistManager) FetchDeliverable(ctx context.Context, tenantID, productID, identity string) (string, error) {
	ok, err := w.IsWhitelisted(ctx, tenantID, identity)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotWhitelisted
	}

	product, err := w.products.Get(ctx, tenantID, productID)
	if err != nil {
		return "", storageError("get product", err)
	}
	if product == nil || !product.HasDeliverable() {
		return "", ErrNoContentConfigured
	}

	if product.DeliverableRef != nil && *product.DeliverableRef != "" {
		return w.readBlob(ctx, *product.DeliverableRef)
	}
	return *product.DeliverableContent, nil
}

func (w *WhitelistManager) readBlob(ctx context.Context, path string) (string, error) {
	if w.blobs == nil {
		return "", storageError("read deliverable", fmt.Errorf("content offloaded to %s but no blob backend is configured", path))
	}

	rc, err := w.blobs.Download(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			slog.Warn("offloaded deliverable missing", "path", path)
			return "", ErrNoContentConfigured
		}
		return "", storageError("read deliverable", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", storageError("read deliverable", err)
	}
	return string(data), nil
}

// SubmitRequest records a pending whitelist request, replacing any earlier
// request from the same identity. It grants nothing.
func (w *WhitelistManager) SubmitRequest(ctx context.Context, tenantID, identity, externalRef string) (*models.WhitelistRequest, error) {
	if err := validateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}

	req := &models.WhitelistRequest{
		TenantID:    tenantID,
		Identity:    identity,
		ExternalRef: externalRef,
		RequestedAt: w.now(),
	}
	if err := w.requests.Upsert(ctx, req); err != nil {
		return nil, storageError("submit whitelist request", err)
	}

	telemetry.WhitelistChangesTotal.WithLabelValues("request").Inc()
	slog.Info("whitelist request submitted", "tenant_id", tenantID, "identity", identity)
	return req, nil
}

// CountPendingRequests returns the number of pending requests in tenantID.
func (w *WhitelistManager) CountPendingRequests(ctx context.Context, tenantID string) (int64, error) {
	n, err := w.requests.Count(ctx, tenantID)
	if err != nil {
		return 0, storageError("count whitelist requests", err)
	}
	return n, nil
}

// CountEntries returns the number of whitelisted identities in tenantID.
func (w *WhitelistManager) CountEntries(ctx context.Context, tenantID string) (int64, error) {
	n, err := w.entries.Count(ctx, tenantID)
	if err != nil {
		return 0, storageError("count whitelist", err)
	}
	return n, nil
}

// ListRequests pages through pending requests, newest first.
func (w *WhitelistManager) ListRequests(ctx context.Context, tenantID string, limit, offset int) ([]models.WhitelistRequest, error) {
	if limit <= 0 || limit > maxRequestPage {
		limit = maxRequestPage
	}
	if offset < 0 {
		offset = 0
	}
	reqs, err := w.requests.List(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, storageError("list whitelist requests", err)
	}
	return reqs, nil
}
