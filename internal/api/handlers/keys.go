// keys.go implements key issuance, lookup and redemption.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keygate/keygate/internal/db/models"
	"github.com/keygate/keygate/internal/entitlement"
	"github.com/keygate/keygate/internal/middleware"
)

// maxTTLDays caps key lifetimes at ten years.
const maxTTLDays = 3650

// KeyHandler handles key requests
type KeyHandler struct {
	keys *entitlement.KeyManager
}

// NewKeyHandler creates a new KeyHandler
func NewKeyHandler(keys *entitlement.KeyManager) *KeyHandler {
	return &KeyHandler{keys: keys}
}

// IssueKeysRequest is the body of POST /api/v1/keys.
type IssueKeysRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	// TTLDays > 0 sets an expiry; 0 means the keys never expire.
	TTLDays int `json:"ttl_days" binding:"min=0"`
	// Count defaults to 1.
	Count int `json:"count" binding:"min=0"`
}

// IssueKeysResponse lists the issued keys.
type IssueKeysResponse struct {
	Keys  []*models.Key `json:"keys"`
	Count int           `json:"count"`
}

// RedeemKeyRequest is the body of POST /api/v1/keys/redeem.
type RedeemKeyRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Code      string `json:"code" binding:"required,max=64"`
}

// RedeemKeyResponse reports a successful redemption.
type RedeemKeyResponse struct {
	ProductID       string     `json:"product_id"`
	RedeemedAt      *time.Time `json:"redeemed_at"`
	AlreadyRedeemed bool       `json:"already_redeemed"`
}

// IssueKeys issues one or more keys for a product in the caller's tenant.
// POST /api/v1/keys
func (h *KeyHandler) IssueKeys(c *gin.Context) {
	var req IssueKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.TTLDays > maxTTLDays {
		badRequest(c, "ttl_days must not exceed 3650")
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}

	tenantID, _ := middleware.GetCaller(c)
	ttl := time.Duration(req.TTLDays) * 24 * time.Hour

	var keys []*models.Key
	if req.Count == 1 {
		key, err := h.keys.Issue(c.Request.Context(), tenantID, req.ProductID, ttl)
		if err != nil {
			respondError(c, err)
			return
		}
		keys = []*models.Key{key}
	} else {
		var err error
		keys, err = h.keys.IssueBatch(c.Request.Context(), tenantID, req.ProductID, ttl, req.Count)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, IssueKeysResponse{Keys: keys, Count: len(keys)})
}

// GetKey returns the state of a key in the caller's tenant.
// GET /api/v1/keys/:code
func (h *KeyHandler) GetKey(c *gin.Context) {
	tenantID, _ := middleware.GetCaller(c)

	key, err := h.keys.Lookup(c.Request.Context(), tenantID, c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, key)
}

// RedeemKey redeems a key for the calling identity.
// POST /api/v1/keys/redeem
func (h *KeyHandler) RedeemKey(c *gin.Context) {
	var req RedeemKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	tenantID, identity := middleware.GetCaller(c)
	res, err := h.keys.Redeem(c.Request.Context(), tenantID, req.ProductID, identity, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, RedeemKeyResponse{
		ProductID:       res.Key.ProductID,
		RedeemedAt:      res.Key.UsedAt,
		AlreadyRedeemed: res.AlreadyRedeemed,
	})
}
