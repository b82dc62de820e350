package models

import "time"

// AllTenants is the ManagerGrant tenant that confers authority over every tenant.
const AllTenants = "*"

// ManagerGrant recognizes an identity as an administrator of a tenant.
type ManagerGrant struct {
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Identity  string    `json:"identity" db:"identity"`
	GrantedBy string    `json:"granted_by" db:"granted_by"`
	GrantedAt time.Time `json:"granted_at" db:"granted_at"`
}

// TenantStats aggregates per-tenant counts for reporting.
type TenantStats struct {
	ProductCount        int64 `json:"product_count" db:"product_count"`
	KeyCount            int64 `json:"key_count" db:"key_count"`
	UsedKeyCount        int64 `json:"used_key_count" db:"used_key_count"`
	WhitelistCount      int64 `json:"whitelist_count" db:"whitelist_count"`
	PendingRequestCount int64 `json:"pending_request_count" db:"pending_request_count"`
}
