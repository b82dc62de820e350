// whitelist.go implements whitelist membership and whitelist request handlers.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/keygate/keygate/internal/db/models"
	"github.com/keygate/keygate/internal/entitlement"
	"github.com/keygate/keygate/internal/middleware"
)

// WhitelistHandler handles whitelist requests
type WhitelistHandler struct {
	whitelist *entitlement.WhitelistManager
}

// NewWhitelistHandler creates a new WhitelistHandler
func NewWhitelistHandler(whitelist *entitlement.WhitelistManager) *WhitelistHandler {
	return &WhitelistHandler{whitelist: whitelist}
}

// WhitelistStatus reports an identity's membership.
type WhitelistStatus struct {
	Identity    string                 `json:"identity"`
	Whitelisted bool                   `json:"whitelisted"`
	Entry       *models.WhitelistEntry `json:"entry,omitempty"`
}

// ExternalRefRequest carries an optional external reference such as an order ID.
type ExternalRefRequest struct {
	ExternalRef string `json:"external_ref" binding:"max=256"`
}

// PendingRequestsResponse is a page of whitelist requests plus the total count.
type PendingRequestsResponse struct {
	Requests []models.WhitelistRequest `json:"requests"`
	Total    int64                     `json:"total"`
	Offset   int                       `json:"offset"`
}

func (h *WhitelistHandler) status(c *gin.Context, identity string) {
	tenantID, _ := middleware.GetCaller(c)

	entry, err := h.whitelist.GetEntry(c.Request.Context(), tenantID, identity)
	if err != nil && !errors.Is(err, entitlement.ErrNotWhitelisted) {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, WhitelistStatus{
		Identity:    identity,
		Whitelisted: entry != nil,
		Entry:       entry,
	})
}

// GetOwnStatus reports whether the caller is whitelisted.
// GET /api/v1/whitelist/me
func (h *WhitelistHandler) GetOwnStatus(c *gin.Context) {
	_, identity := middleware.GetCaller(c)
	h.status(c, identity)
}

// GetStatus reports whether another identity is whitelisted.
// GET /api/v1/whitelist/entries/:identity
func (h *WhitelistHandler) GetStatus(c *gin.Context) {
	h.status(c, c.Param("identity"))
}

// Grant whitelists an identity.
// PUT /api/v1/whitelist/entries/:identity
func (h *WhitelistHandler) Grant(c *gin.Context) {
	var req ExternalRefRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}

	tenantID, _ := middleware.GetCaller(c)
	entry, err := h.whitelist.Grant(c.Request.Context(), tenantID, c.Param("identity"), req.ExternalRef)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Revoke removes an identity from the whitelist. Revoking a non-member succeeds.
// DELETE /api/v1/whitelist/entries/:identity
func (h *WhitelistHandler) Revoke(c *gin.Context) {
	tenantID, _ := middleware.GetCaller(c)

	removed, err := h.whitelist.Revoke(c.Request.Context(), tenantID, c.Param("identity"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": c.Param("identity"), "removed": removed})
}

// SubmitRequest records a whitelist request for the caller.
// POST /api/v1/whitelist/requests
func (h *WhitelistHandler) SubmitRequest(c *gin.Context) {
	var req ExternalRefRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}

	tenantID, identity := middleware.GetCaller(c)
	pending, err := h.whitelist.SubmitRequest(c.Request.Context(), tenantID, identity, req.ExternalRef)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, pending)
}

// ListRequests pages through pending whitelist requests.
// GET /api/v1/whitelist/requests?limit=&offset=
func (h *WhitelistHandler) ListRequests(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		badRequest(c, "limit must be an integer")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		badRequest(c, "offset must be a non-negative integer")
		return
	}

	tenantID, _ := middleware.GetCaller(c)
	ctx := c.Request.Context()

	requests, err := h.whitelist.ListRequests(ctx, tenantID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	total, err := h.whitelist.CountPendingRequests(ctx, tenantID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, PendingRequestsResponse{Requests: requests, Total: total, Offset: offset})
}
