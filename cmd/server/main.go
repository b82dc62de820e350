// Package main is the entry point for the keygate server binary.
// It dispatches its subcommands (serve, migrate, issue, token, version) via a
// simple switch on os.Args so the whole CLI surface is readable in one place.
// The serve command runs migrations on startup so a freshly deployed container
// never needs a separate migration step.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/keygate/keygate/internal/api"
	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/db"
	"github.com/keygate/keygate/internal/db/repositories"
	"github.com/keygate/keygate/internal/entitlement"
	"github.com/keygate/keygate/internal/storage"
	"github.com/keygate/keygate/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	// Blob backends register themselves in init()
	_ "github.com/keygate/keygate/internal/storage/local"
	_ "github.com/keygate/keygate/internal/storage/s3"
)

const version = "0.1.0"

const usage = `usage: keygate <command> [flags]

commands:
  serve                 run the HTTP server (default)
  migrate <up|down>     apply or roll back schema migrations
  issue                 issue keys offline: -tenant -product [-count] [-ttl-days]
  token                 mint a caller token for testing: -tenant -identity
  version               print the version`

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	// A missing .env is normal outside local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	if command == "version" {
		fmt.Printf("keygate v%s\n", version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "issue":
		return issueKeys(cfg, os.Args[2:])
	case "token":
		return mintToken(cfg, os.Args[2:])
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, usage)
	}
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"name", cfg.Database.Name, "user", cfg.Database.User, "ssl_mode", cfg.Database.SSLMode)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running database migrations")
	if err := db.RunMigrations(database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if schema, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", schema, "dirty", dirty)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Pool statistics are exported on the metrics port
	telemetry.StartDBStatsCollector(ctx, database.DB)

	blobs, err := storage.NewStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize deliverables backend: %w", err)
	}
	slog.Info("deliverables backend ready", "backend", cfg.Deliverables.Backend,
		"offload_threshold_bytes", cfg.Deliverables.OffloadThresholdBytes)

	// Metrics are served on a dedicated port so they are never reachable through
	// the public API ingress.
	var metricsServer *http.Server
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("starting Prometheus metrics server", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	router, bgServices, err := api.NewRouter(cfg, database, blobs, version)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", server.Addr, "tls", cfg.Security.TLS.Enabled, "version", version)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	case err := <-serverErr:
		bgServices.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown failed", "error", err)
		}
	}

	// In-flight requests are drained; stop jobs and release the limiter
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	schema, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	slog.Info("migration completed", "version", schema, "dirty", dirty)
	return nil
}

// issueKeys issues keys without going through the HTTP API, for bulk giveaways
// prepared by an operator. Codes are written to stdout, one per line.
func issueKeys(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant (guild) ID")
	productID := fs.String("product", "", "product ID")
	count := fs.Int("count", 1, "number of keys")
	ttlDays := fs.Int("ttl-days", 0, "days until the keys expire (0 = never)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenantID == "" || *productID == "" {
		return fmt.Errorf("issue: -tenant and -product are required")
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	keys := entitlement.NewKeyManager(repositories.NewKeyRepository(database), cfg.Keys.MaxBatch)
	issued, err := keys.IssueBatch(context.Background(), *tenantID, *productID,
		time.Duration(*ttlDays)*24*time.Hour, *count)
	if err != nil {
		return fmt.Errorf("failed to issue keys: %w", err)
	}

	for _, k := range issued {
		fmt.Println(k.Code)
	}
	return nil
}

// mintToken prints a caller token signed with the configured secret, for
// exercising the API with curl.
func mintToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant (guild) ID")
	identity := fs.String("identity", "", "caller identity (user ID)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenantID == "" || *identity == "" {
		return fmt.Errorf("token: -tenant and -identity are required")
	}

	tokens, err := auth.NewTokenService(cfg.Auth.CallerTokenSecret, cfg.Auth.Issuer, cfg.Auth.CallerTokenTTL)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(*tenantID, *identity)
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}
	fmt.Println(token)
	return nil
}
