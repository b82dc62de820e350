package models

import "time"

// Product is a per-tenant catalog entry keyed by (TenantID, ProductID).
type Product struct {
	TenantID           string    `json:"tenant_id" db:"tenant_id"`
	ProductID          string    `json:"product_id" db:"product_id"`
	Title              string    `json:"title" db:"title"`
	Description        string    `json:"description" db:"description"`
	Color              *int      `json:"color,omitempty" db:"color"`
	Icon               *string   `json:"icon,omitempty" db:"icon"`
	ImageURL           *string   `json:"image_url,omitempty" db:"image_url"`
	RedeemRole         *string   `json:"redeem_role,omitempty" db:"redeem_role"`
	DeliverableContent *string   `json:"-" db:"deliverable_content"`
	DeliverableRef     *string   `json:"-" db:"deliverable_ref"` // object store path when offloaded
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// HasDeliverable reports whether inline content or an offloaded blob is configured.
func (p Product) HasDeliverable() bool {
	return (p.DeliverableContent != nil && *p.DeliverableContent != "") ||
		(p.DeliverableRef != nil && *p.DeliverableRef != "")
}
