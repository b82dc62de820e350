// ratelimit.go throttles redemption attempts per (tenant, identity) and returns 429
// with Retry-After when the caller is over its allowance.
package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/telemetry"
)

// RedeemRateLimit limits redemption attempts per caller. When the limiter itself
// fails the request passes unless failClosed is set.
func RedeemRateLimit(limiter ratelimit.Limiter, failClosed bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, identity := GetCaller(c)
		key := ratelimit.RedeemKey(tenantID, identity)
		if identity == "" {
			key = ratelimit.RedeemKey(tenantID, "ip:"+c.ClientIP())
		}

		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("redeem rate limiter unavailable", "error", err, "fail_closed", failClosed)
			if failClosed {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Rate limiter unavailable"})
				return
			}
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			telemetry.KeyRedemptionsTotal.WithLabelValues(telemetry.OutcomeRateLimited).Inc()
			slog.Info("redeem rate limited", "tenant_id", tenantID, "identity", identity, "retry_after", retryAfter)

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many redemption attempts",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
