// Package telemetry provides application-level observability for keygate.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<KEYGATE_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router, so it is
// never reachable through the caller-facing API.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Key issuance and redemption outcome counters
//   - Whitelist change counters
//   - Expired key sweep counter
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/keys/:code) so key
// codes and identities never become label values. Redemption outcomes are a fixed
// set (see the Outcome constants).
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Redemption outcomes recorded in KeyRedemptionsTotal.
const (
	OutcomeSuccess         = "success"
	OutcomeAlreadyRedeemed = "already_redeemed"
	OutcomeNotFound        = "not_found"
	OutcomeProductMismatch = "product_mismatch"
	OutcomeExpired         = "expired"
	OutcomeAlreadyUsed     = "already_used"
	OutcomeRateLimited     = "rate_limited"
	OutcomeError           = "error"
)

// Entitlement metrics.
//
// KeysIssuedTotal is a CounterVec with label {product}. Products are a small
// admin-managed set per tenant, so the label stays bounded.
//
// KeyRedemptionsTotal is a CounterVec with label {outcome}. A rising not_found rate
// together with rate_limited denials is the signature of a key guessing attempt.
//
// Example PromQL queries:
//   - Redemption success ratio:  sum(rate(key_redemptions_total{outcome="success"}[1h])) / sum(rate(key_redemptions_total[1h]))
//   - Guessing alert:            increase(key_redemptions_total{outcome="not_found"}[10m]) > 50
//
// WhitelistChangesTotal is a CounterVec with label {action}: grant, revoke, redeem, request.
var (
	KeysIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keys_issued_total",
			Help: "Total number of keys issued, by product.",
		},
		[]string{"product"},
	)

	KeyRedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "key_redemptions_total",
			Help: "Total number of key redemption attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	WhitelistChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whitelist_changes_total",
			Help: "Total number of whitelist and whitelist request writes, by action.",
		},
		[]string{"action"},
	)
)

// KeysSweptTotal counts unused expired keys removed by the sweep job.
var KeysSweptTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "keys_swept_total",
		Help: "Total number of unused expired keys deleted by the expired key sweeper.",
	},
)

// DBOpenConnections tracks the number of open connections held by the pool.
// It is sampled every 30 seconds by StartDBStatsCollector rather than per request.
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <KEYGATE_DATABASE_MAX_CONNECTIONS> * 100
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

const dbStatsInterval = 30 * time.Second

// StartDBStatsCollector samples pool statistics every 30 seconds until ctx is
// cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				recordDBStats(db)
			}
		}
	}()
}

func recordDBStats(db *sql.DB) {
	DBOpenConnections.Set(float64(db.Stats().OpenConnections))
}
