// Package api wires together all HTTP routes of the keygate server.
//
// Route grouping:
//   - /health and /ready are unauthenticated probes.
//   - Every /api/v1 route requires a caller token minted by the chat front end
//     (middleware.CallerAuth). The token carries the tenant and identity; nothing
//     in a request body or query can change either.
//   - Routes that issue keys, change the catalog, or reveal other identities'
//     entitlements additionally require an owner or a manager of the caller's
//     tenant (middleware.RequireAdmin). Manager administration is owner-only.
//   - POST /api/v1/keys/redeem is rate limited per (tenant, identity) to blunt
//     key guessing.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/keygate/keygate/internal/api/handlers"
	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/db/repositories"
	"github.com/keygate/keygate/internal/entitlement"
	"github.com/keygate/keygate/internal/jobs"
	"github.com/keygate/keygate/internal/middleware"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/safego"
	"github.com/keygate/keygate/internal/storage"
)

const redisPingTimeout = 3 * time.Second

// BackgroundServices holds background jobs and resources that must be released
// during graceful shutdown. The caller (cmd/server) calls Shutdown after the HTTP
// server has drained.
type BackgroundServices struct {
	sweeper *jobs.ExpiredKeySweeper
	limiter ratelimit.Limiter
}

// Shutdown stops all background goroutines and closes the rate limiter.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.sweeper != nil {
		bg.sweeper.Stop()
	}
	if bg.limiter != nil {
		if err := bg.limiter.Close(); err != nil {
			slog.Warn("failed to close rate limiter", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. blobs may be nil when
// deliverables are kept inline.
func NewRouter(cfg *config.Config, db *sqlx.DB, blobs storage.Storage, version string) (*gin.Engine, *BackgroundServices, error) {
	tokens, err := auth.NewTokenService(cfg.Auth.CallerTokenSecret, cfg.Auth.Issuer, cfg.Auth.CallerTokenTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize caller token verification: %w", err)
	}

	limiter, err := newRedeemLimiter(cfg)
	if err != nil {
		return nil, nil, err
	}
	bg := &BackgroundServices{limiter: limiter}

	// Repositories
	keyRepo := repositories.NewKeyRepository(db)
	productRepo := repositories.NewProductRepository(db)

	// Entitlement services
	keys := entitlement.NewKeyManager(keyRepo, cfg.Keys.MaxBatch)
	whitelist := entitlement.NewWhitelistManager(
		repositories.NewWhitelistRepository(db),
		repositories.NewWhitelistRequestRepository(db),
		productRepo,
		blobs,
	)
	catalog := entitlement.NewCatalog(productRepo, blobs, cfg.Deliverables.OffloadThresholdBytes)
	gate := entitlement.NewGate(
		entitlement.NewAuthorizationContext(cfg.Authorization.Owners),
		repositories.NewManagerRepository(db),
	)
	stats := entitlement.NewStatsReporter(repositories.NewStatsRepository(db))

	if len(cfg.Authorization.Owners) == 0 {
		slog.Warn("no owners configured; manager administration is unavailable")
	}

	if cfg.Jobs.ExpiredKeySweep.Enabled {
		bg.sweeper = jobs.NewExpiredKeySweeper(keyRepo, &cfg.Jobs.ExpiredKeySweep)
		safego.Go("expired-key-sweeper", func() { bg.sweeper.Start(context.Background()) })
	}

	// Handlers
	healthHandler := handlers.NewHealthHandler(db, blobs, version)
	keyHandler := handlers.NewKeyHandler(keys)
	whitelistHandler := handlers.NewWhitelistHandler(whitelist)
	productHandler := handlers.NewProductHandler(catalog, whitelist)
	authzHandler := handlers.NewAuthzHandler(gate)
	statsHandler := handlers.NewStatsHandler(stats)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS.AllowedOrigins))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	redeemChain := []gin.HandlerFunc{}
	if limiter != nil {
		redeemChain = append(redeemChain, middleware.RedeemRateLimit(limiter, cfg.Security.RateLimiting.FailClosed))
	}
	redeemChain = append(redeemChain, keyHandler.RedeemKey)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.CallerAuth(tokens))
	{
		// Any caller
		apiV1.POST("/keys/redeem", redeemChain...)
		apiV1.GET("/whitelist/me", whitelistHandler.GetOwnStatus)
		apiV1.POST("/whitelist/requests", whitelistHandler.SubmitRequest)
		apiV1.GET("/products", productHandler.ListProducts)
		apiV1.GET("/products/:product_id", productHandler.GetProduct)
		apiV1.GET("/products/:product_id/deliverable", productHandler.GetDeliverable)
		apiV1.GET("/authz", authzHandler.CheckAuthorization)

		// Owners and managers of the caller's tenant
		adminGroup := apiV1.Group("")
		adminGroup.Use(middleware.RequireAdmin(gate))
		{
			adminGroup.POST("/keys", keyHandler.IssueKeys)
			adminGroup.GET("/keys/:code", keyHandler.GetKey)

			adminGroup.GET("/whitelist/requests", whitelistHandler.ListRequests)
			adminGroup.GET("/whitelist/entries/:identity", whitelistHandler.GetStatus)
			adminGroup.PUT("/whitelist/entries/:identity", whitelistHandler.Grant)
			adminGroup.DELETE("/whitelist/entries/:identity", whitelistHandler.Revoke)

			adminGroup.PUT("/products/:product_id", productHandler.UpsertProduct)

			adminGroup.GET("/stats", statsHandler.GetStats)
			adminGroup.GET("/managers", authzHandler.ListManagers)
		}

		// Owners only
		ownerGroup := apiV1.Group("/managers")
		ownerGroup.Use(middleware.RequireOwner(gate))
		{
			ownerGroup.PUT("/:identity", authzHandler.GrantManager)
			ownerGroup.DELETE("/:identity", authzHandler.RevokeManager)
		}
	}

	return router, bg, nil
}

// newRedeemLimiter returns the redemption limiter, or nil when rate limiting is
// disabled. A configured Redis address selects the shared Redis limiter; the
// server refuses to start if Redis is unreachable rather than silently limiting
// per replica.
func newRedeemLimiter(cfg *config.Config) (ratelimit.Limiter, error) {
	rl := cfg.Security.RateLimiting
	if !rl.Enabled {
		slog.Warn("redeem rate limiting is disabled")
		return nil, nil
	}

	limits := ratelimit.Config{PerMinute: rl.RedeemPerMinute, Burst: rl.Burst}
	if cfg.Redis.Addr == "" {
		slog.Info("redeem rate limiter: in-process", "per_minute", rl.RedeemPerMinute, "burst", rl.Burst)
		return ratelimit.NewMemoryLimiter(limits), nil
	}

	client := ratelimit.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	limiter := ratelimit.NewRedisLimiter(client, limits)

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := limiter.Ping(ctx); err != nil {
		_ = limiter.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
	}

	slog.Info("redeem rate limiter: redis", "addr", cfg.Redis.Addr, "per_minute", rl.RedeemPerMinute, "burst", rl.Burst)
	return limiter, nil
}
