// stats.go implements the per-tenant stats handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/keygate/keygate/internal/entitlement"
	"github.com/keygate/keygate/internal/middleware"
)

// StatsHandler handles stats requests
type StatsHandler struct {
	stats *entitlement.StatsReporter
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(stats *entitlement.StatsReporter) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// GetStats returns the caller tenant's counts.
// GET /api/v1/stats
func (h *StatsHandler) GetStats(c *gin.Context) {
	tenantID, _ := middleware.GetCaller(c)

	st, err := h.stats.Stats(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "stats": st})
}
