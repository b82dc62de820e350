// health.go implements the liveness and readiness probes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keygate/keygate/internal/storage"
)

// readyProbePath is looked up on the blob backend; only reachability matters.
const readyProbePath = "deliverables/.ready"

// Pinger is satisfied by *sqlx.DB and *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler serves /health and /ready.
type HealthHandler struct {
	db      Pinger
	blobs   storage.Storage // nil when deliverables are inline only
	version string
}

// NewHealthHandler creates a new HealthHandler. blobs may be nil.
func NewHealthHandler(db Pinger, blobs storage.Storage, version string) *HealthHandler {
	return &HealthHandler{db: db, blobs: blobs, version: version}
}

// Health reports that the process is running.
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.version})
}

// Ready reports whether the entitlement store and, when configured, the blob
// backend are reachable.
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"database": "ok"}
	ready := true

	if err := h.db.PingContext(ctx); err != nil {
		slog.Warn("readiness check failed", "component", "database", "error", err)
		checks["database"] = "unreachable"
		ready = false
	}
	if h.blobs != nil {
		checks["storage"] = "ok"
		if _, err := h.blobs.Exists(ctx, readyProbePath); err != nil {
			slog.Warn("readiness check failed", "component", "storage", "error", err)
			checks["storage"] = "unreachable"
			ready = false
		}
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
}
