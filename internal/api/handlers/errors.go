// Package handlers implements the Gin handlers of the keygate HTTP adapter. Each
// handler is a thin translation between JSON and the entitlement services; all
// decisions are made in internal/entitlement.
//
// Error responses use the {"error": message, "code": kind} shape. The code lets the
// front end render expected outcomes (not_found, already_used, ...) differently
// from faults.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/keygate/keygate/internal/entitlement"
	"github.com/keygate/keygate/internal/middleware"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{entitlement.ErrNotFound, http.StatusNotFound, "not_found", "Not found"},
	{entitlement.ErrProductMismatch, http.StatusUnprocessableEntity, "product_mismatch", "Key belongs to a different product"},
	{entitlement.ErrAlreadyUsed, http.StatusConflict, "already_used", "Key has already been used"},
	{entitlement.ErrExpired, http.StatusGone, "expired", "Key has expired"},
	{entitlement.ErrNotWhitelisted, http.StatusForbidden, "not_whitelisted", "Not whitelisted"},
	{entitlement.ErrNoContentConfigured, http.StatusNotFound, "no_content_configured", "No deliverable content configured"},
	{entitlement.ErrUnauthorized, http.StatusForbidden, "unauthorized", "Not authorized"},
}

// respondError writes the response for err. Validation errors carry their own
// message; storage failures are logged and reported without detail.
func respondError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.JSON(m.status, gin.H{"error": m.message, "code": m.code})
			return
		}
	}

	switch {
	case errors.Is(err, entitlement.ErrInvalidProduct):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_product"})
	case errors.Is(err, entitlement.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
	default:
		_ = c.Error(err)
		slog.Error("request failed",
			"path", c.FullPath(),
			"request_id", c.GetString(middleware.RequestIDKey),
			"error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": "storage_failure"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "invalid_request"})
}
