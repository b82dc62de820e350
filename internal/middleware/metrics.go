// Package middleware provides the Gin middleware of the keygate HTTP adapter:
// request IDs, metrics, access logging, security headers, caller token
// authentication, the admin and owner gates, and redemption rate limiting.
//
// Ordering is fixed in internal/api/router.go:
//
//	Recovery → RequestID → Metrics → Logger → SecurityHeaders → CallerAuth → RequireAdmin/RequireOwner → Handler
//
// RedeemRateLimit runs after CallerAuth because it keys on the caller identity.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keygate/keygate/internal/telemetry"
)

// noRoutePath labels requests that matched no route so arbitrary URLs do not
// become label values.
const noRoutePath = "<no-route>"

// MetricsMiddleware records http_requests_total and http_request_duration_seconds
// for every request, labelled by c.FullPath() (the route template, e.g.
// /api/v1/keys/:code) so key codes never appear in label values.
//
// Register it after RequestIDMiddleware and before any handler that may abort, so
// the final status is observed.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoutePath
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
