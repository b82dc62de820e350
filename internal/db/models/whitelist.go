package models

import "time"

// Whitelist entry sources
const (
	WhitelistSourceGrant  = "grant"
	WhitelistSourceRedeem = "redeem"
)

// WhitelistEntry records that an identity is entitled within a tenant.
// ExternalRef may be empty, meaning the grant carried no external reference.
type WhitelistEntry struct {
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	Identity    string    `json:"identity" db:"identity"`
	ExternalRef string    `json:"external_ref" db:"external_ref"`
	Source      string    `json:"source" db:"source"`
	GrantedAt   time.Time `json:"granted_at" db:"granted_at"`
}

// WhitelistRequest is a pending self-service ask. It grants nothing by itself.
type WhitelistRequest struct {
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	Identity    string    `json:"identity" db:"identity"`
	ExternalRef string    `json:"external_ref" db:"external_ref"`
	RequestedAt time.Time `json:"requested_at" db:"requested_at"`
}
