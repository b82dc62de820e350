package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/keygate/keygate/internal/db/models"
	"github.com/keygate/keygate/internal/storage"
)

// Column widths of the entitlement store.
const (
	maxTenantIDLen  = 64
	maxProductIDLen = 128
	maxIdentityLen  = 128
)

// IDs appear in blob paths and URLs, so they are restricted to a safe alphabet.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

func validateID(field, value string, maxLen int) error {
	if len(value) > maxLen || !idPattern.MatchString(value) || strings.Contains(value, "..") {
		return invalid("%s %q must be 1-%d letters, digits, '_', '.' or '-'", field, value, maxLen)
	}
	return nil
}

func validateTenantID(tenantID string) error {
	return validateID("tenant_id", tenantID, maxTenantIDLen)
}

func validateIDs(tenantID, productID string) error {
	if err := validateTenantID(tenantID); err != nil {
		return err
	}
	return validateID("product_id", productID, maxProductIDLen)
}

// Identities are opaque, so only presence and length are checked.
func validateIdentity(identity string) error {
	if identity == "" {
		return invalid("identity is required")
	}
	if utf8.RuneCountInString(identity) > maxIdentityLen {
		return invalid("identity must be at most %d characters", maxIdentityLen)
	}
	return nil
}

// ProductFields carries a catalog update. Nil fields keep the stored value. An
// empty Deliverable clears the deliverable.
type ProductFields struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Color       *int    `json:"color"`
	Icon        *string `json:"icon"`
	ImageURL    *string `json:"image_url"`
	RedeemRole  *string `json:"redeem_role"`
	Deliverable *string `json:"deliverable"`
}

// Catalog manages per-tenant product entries.
type Catalog struct {
	products ProductStore
	blobs    storage.Storage // nil keeps every deliverable inline

	offloadThreshold int
	now              func() time.Time
	newVersion       func() string
}

// NewCatalog creates a Catalog. Deliverables longer than offloadThreshold bytes
// are written to blobs; a nil blobs or non-positive threshold disables offload.
func NewCatalog(products ProductStore, blobs storage.Storage, offloadThreshold int) *Catalog {
	return &Catalog{
		products:         products,
		blobs:            blobs,
		offloadThreshold: offloadThreshold,
		now:              func() time.Time { return time.Now().UTC() },
		newVersion:       uuid.NewString,
	}
}

// Get returns a product, or ErrNotFound.
func (c *Catalog) Get(ctx context.Context, tenantID, productID string) (*models.Product, error) {
	p, err := c.products.Get(ctx, tenantID, productID)
	if err != nil {
		return nil, storageError("get product", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// List returns every product of tenantID.
func (c *Catalog) List(ctx context.Context, tenantID string) ([]models.Product, error) {
	products, err := c.products.List(ctx, tenantID)
	if err != nil {
		return nil, storageError("list products", err)
	}
	return products, nil
}

// Upsert creates or updates a product, merging fields into the stored entry.
// Title and description are required when the product does not exist yet.
func (c *Catalog) Upsert(ctx context.Context, tenantID, productID string, fields ProductFields) (*models.Product, error) {
	if err := validateIDs(tenantID, productID); err != nil {
		return nil, err
	}

	existing, err := c.products.Get(ctx, tenantID, productID)
	if err != nil {
		return nil, storageError("get product", err)
	}

	var p models.Product
	if existing != nil {
		p = *existing
	} else {
		if isBlank(fields.Title) || isBlank(fields.Description) {
			return nil, fmt.Errorf("%w: title and description are required for a new product", ErrInvalidProduct)
		}
		p = models.Product{TenantID: tenantID, ProductID: productID}
	}

	if fields.Title != nil {
		if isBlank(fields.Title) {
			return nil, fmt.Errorf("%w: title must not be empty", ErrInvalidProduct)
		}
		p.Title = *fields.Title
	}
	if fields.Description != nil {
		if isBlank(fields.Description) {
			return nil, fmt.Errorf("%w: description must not be empty", ErrInvalidProduct)
		}
		p.Description = *fields.Description
	}
	if fields.Color != nil {
		if *fields.Color < 0 || *fields.Color > 0xFFFFFF {
			return nil, fmt.Errorf("%w: color must be between 0 and 0xFFFFFF", ErrInvalidProduct)
		}
		p.Color = fields.Color
	}
	if fields.Icon != nil {
		p.Icon = emptyToNil(fields.Icon)
	}
	if fields.ImageURL != nil {
		p.ImageURL = emptyToNil(fields.ImageURL)
	}
	if fields.RedeemRole != nil {
		p.RedeemRole = emptyToNil(fields.RedeemRole)
	}

	// The old blob stays in place until the row pointing at the new one commits.
	var staleRef, freshRef string
	if fields.Deliverable != nil {
		if p.DeliverableRef != nil {
			staleRef = *p.DeliverableRef
		}
		if err := c.setDeliverable(ctx, &p, *fields.Deliverable); err != nil {
			return nil, err
		}
		if p.DeliverableRef != nil {
			freshRef = *p.DeliverableRef
		}
	}

	p.UpdatedAt = c.now()
	if err := c.products.Upsert(ctx, &p); err != nil {
		c.deleteBlob(ctx, freshRef)
		return nil, storageError("upsert product", err)
	}
	if staleRef != freshRef {
		c.deleteBlob(ctx, staleRef)
	}

	slog.Info("product upserted", "tenant_id", tenantID, "product_id", productID, "created", existing == nil)
	return &p, nil
}

func (c *Catalog) setDeliverable(ctx context.Context, p *models.Product, content string) error {
	if content == "" {
		p.DeliverableContent = nil
		p.DeliverableRef = nil
		return nil
	}

	if c.blobs == nil || c.offloadThreshold <= 0 || len(content) <= c.offloadThreshold {
		p.DeliverableContent = &content
		p.DeliverableRef = nil
		return nil
	}

	path := storage.DeliverablePath(p.TenantID, p.ProductID, c.newVersion())
	result, err := c.blobs.Upload(ctx, path, strings.NewReader(content), int64(len(content)))
	if err != nil {
		return storageError("offload deliverable", err)
	}
	p.DeliverableContent = nil
	p.DeliverableRef = &result.Path
	slog.Debug("deliverable offloaded", "path", result.Path, "size", result.Size, "checksum", result.Checksum)
	return nil
}

// deleteBlob removes an unreferenced deliverable. Failures only leak an object.
func (c *Catalog) deleteBlob(ctx context.Context, path string) {
	if path == "" || c.blobs == nil {
		return
	}
	if err := c.blobs.Delete(context.WithoutCancel(ctx), path); err != nil {
		slog.Warn("failed to delete unreferenced deliverable", "path", path, "error", err)
	}
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func emptyToNil(s *string) *string {
	if *s == "" {
		return nil
	}
	v := *s
	return &v
}
