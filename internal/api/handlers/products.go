// products.go implements catalog and deliverable handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/keygate/keygate/internal/db/models"
	"github.com/keygate/keygate/internal/entitlement"
	"github.com/keygate/keygate/internal/middleware"
)

// ProductHandler handles product requests
type ProductHandler struct {
	catalog   *entitlement.Catalog
	whitelist *entitlement.WhitelistManager
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(catalog *entitlement.Catalog, whitelist *entitlement.WhitelistManager) *ProductHandler {
	return &ProductHandler{catalog: catalog, whitelist: whitelist}
}

// ProductResponse is a catalog entry as shown to callers. Deliverable content is
// only served by the deliverable endpoint.
type ProductResponse struct {
	models.Product
	HasDeliverable bool `json:"has_deliverable"`
}

func toProductResponse(p *models.Product) ProductResponse {
	return ProductResponse{Product: *p, HasDeliverable: p.HasDeliverable()}
}

// ListProducts lists the caller tenant's products.
// GET /api/v1/products
func (h *ProductHandler) ListProducts(c *gin.Context) {
	tenantID, _ := middleware.GetCaller(c)

	products, err := h.catalog.List(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]ProductResponse, 0, len(products))
	for i := range products {
		out = append(out, toProductResponse(&products[i]))
	}
	c.JSON(http.StatusOK, gin.H{"products": out})
}

// GetProduct returns one product.
// GET /api/v1/products/:product_id
func (h *ProductHandler) GetProduct(c *gin.Context) {
	tenantID, _ := middleware.GetCaller(c)

	p, err := h.catalog.Get(c.Request.Context(), tenantID, c.Param("product_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(p))
}

// UpsertProduct creates or updates a product. Omitted fields keep their value.
// PUT /api/v1/products/:product_id
func (h *ProductHandler) UpsertProduct(c *gin.Context) {
	var fields entitlement.ProductFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	tenantID, _ := middleware.GetCaller(c)
	p, err := h.catalog.Upsert(c.Request.Context(), tenantID, c.Param("product_id"), fields)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(p))
}

// GetDeliverable returns the product's deliverable to a whitelisted caller.
// GET /api/v1/products/:product_id/deliverable
func (h *ProductHandler) GetDeliverable(c *gin.Context) {
	tenantID, identity := middleware.GetCaller(c)
	productID := c.Param("product_id")

	content, err := h.whitelist.FetchDeliverable(c.Request.Context(), tenantID, productID, identity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "content": content})
}
