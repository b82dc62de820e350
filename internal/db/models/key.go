// Package models defines the entitlement store record types.
// Each type corresponds to a table and carries json tags for the HTTP adapter and db tags for sqlx scanning.
// Models are plain data; state transitions live in the entitlement package, SQL lives in repositories.
package models

import "time"

// Key is a single-use credential entitling its redeemer to a product.
type Key struct {
	Code      string     `json:"code" db:"code"`
	TenantID  string     `json:"tenant_id" db:"tenant_id"`
	ProductID string     `json:"product_id" db:"product_id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"` // nil never expires
	UsedBy    *string    `json:"used_by,omitempty" db:"used_by"`
	UsedAt    *time.Time `json:"used_at,omitempty" db:"used_at"`
}

// IsRedeemed reports whether the key has been claimed.
func (k Key) IsRedeemed() bool {
	return k.UsedBy != nil
}

// IsExpired reports whether the key's expiry lies at or before now.
func (k Key) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}
