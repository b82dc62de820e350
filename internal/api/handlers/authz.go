// authz.go implements the authorization check and manager administration handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/keygate/keygate/internal/db/models"
	"github.com/keygate/keygate/internal/entitlement"
	"github.com/keygate/keygate/internal/middleware"
)

// AuthzHandler handles authorization and manager requests
type AuthzHandler struct {
	gate *entitlement.Gate
}

// NewAuthzHandler creates a new AuthzHandler
func NewAuthzHandler(gate *entitlement.Gate) *AuthzHandler {
	return &AuthzHandler{gate: gate}
}

// GrantManagerRequest is the optional body of PUT /api/v1/managers/:identity.
type GrantManagerRequest struct {
	// AllTenants grants authority over every tenant instead of the caller's.
	AllTenants bool `json:"all_tenants"`
}

// CheckAuthorization reports whether the caller may use admin operations.
// GET /api/v1/authz
func (h *AuthzHandler) CheckAuthorization(c *gin.Context) {
	tenantID, identity := middleware.GetCaller(c)

	ok, err := h.gate.IsAuthorized(c.Request.Context(), tenantID, identity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identity":   identity,
		"authorized": ok,
		"owner":      h.gate.IsOwner(identity),
	})
}

// ListManagers lists manager grants that apply to the caller's tenant.
// GET /api/v1/managers
func (h *AuthzHandler) ListManagers(c *gin.Context) {
	tenantID, _ := middleware.GetCaller(c)

	grants, err := h.gate.ListManagers(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"managers": grants})
}

// GrantManager makes an identity a manager.
// PUT /api/v1/managers/:identity
func (h *AuthzHandler) GrantManager(c *gin.Context) {
	var req GrantManagerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}

	tenantID, actor := middleware.GetCaller(c)
	if req.AllTenants {
		tenantID = models.AllTenants
	}

	grant, err := h.gate.GrantManager(c.Request.Context(), actor, tenantID, c.Param("identity"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

// RevokeManager removes an identity's manager grant for the caller's tenant, or
// its all-tenant grant when ?all_tenants=true.
// DELETE /api/v1/managers/:identity
func (h *AuthzHandler) RevokeManager(c *gin.Context) {
	tenantID, actor := middleware.GetCaller(c)
	if c.Query("all_tenants") == "true" {
		tenantID = models.AllTenants
	}

	if err := h.gate.RevokeManager(c.Request.Context(), actor, tenantID, c.Param("identity")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
