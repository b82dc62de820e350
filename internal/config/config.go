// Package config loads and validates the keygate configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the KEYGATE_ prefix (e.g.
// KEYGATE_DATABASE_HOST overrides database.host in the YAML), so the same binary
// runs with a config.yaml locally and with pure environment variables in a
// container.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Authorization AuthorizationConfig `mapstructure:"authorization"`
	Keys          KeysConfig          `mapstructure:"keys"`
	Deliverables  DeliverablesConfig  `mapstructure:"deliverables"`
	Security      SecurityConfig      `mapstructure:"security"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Jobs          JobsConfig          `mapstructure:"jobs"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the optional Redis connection used by the redeem rate limiter.
// An empty Addr selects the in-process limiter.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds the settings used to verify caller tokens minted by the front end.
type AuthConfig struct {
	// CallerTokenSecret is the HS256 secret shared with the front end.
	CallerTokenSecret string `mapstructure:"caller_token_secret"`
	// CallerTokenTTL bounds the lifetime of tokens minted by cmd tools and tests.
	CallerTokenTTL time.Duration `mapstructure:"caller_token_ttl"`
	// Issuer is the expected "iss" claim.
	Issuer string `mapstructure:"issuer"`
}

// AuthorizationConfig holds the fixed owner set. It is read once at startup.
type AuthorizationConfig struct {
	Owners []string `mapstructure:"owners"`
}

// KeysConfig holds key issuance limits
type KeysConfig struct {
	// MaxBatch caps how many keys a single issue request may create.
	MaxBatch int `mapstructure:"max_batch"`
}

// DeliverablesConfig controls where product deliverable content is kept.
type DeliverablesConfig struct {
	// Backend is "database" (inline only), "local" or "s3".
	Backend string `mapstructure:"backend"`
	// OffloadThresholdBytes is the content size above which content is written
	// to the blob backend instead of the products row.
	OffloadThresholdBytes int                `mapstructure:"offload_threshold_bytes"`
	Local                 LocalStorageConfig `mapstructure:"local"`
	S3                    S3StorageConfig    `mapstructure:"s3"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod is "default", "static" or "assume_role"
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration for browser-based front ends
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitingConfig holds redeem rate limiting configuration
type RateLimitingConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	RedeemPerMinute int  `mapstructure:"redeem_per_minute"`
	Burst           int  `mapstructure:"burst"`
	FailClosed      bool `mapstructure:"fail_closed"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// JobsConfig holds background job configuration
type JobsConfig struct {
	ExpiredKeySweep ExpiredKeySweepConfig `mapstructure:"expired_key_sweep"`
}

// ExpiredKeySweepConfig controls the optional removal of unused expired keys.
type ExpiredKeySweepConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() alone does not reach nested keys during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",

		// Auth
		"auth.caller_token_secret",
		"auth.caller_token_ttl",
		"auth.issuer",

		// Authorization
		"authorization.owners",

		// Keys
		"keys.max_batch",

		// Deliverables
		"deliverables.backend",
		"deliverables.offload_threshold_bytes",
		"deliverables.local.base_path",
		"deliverables.s3.endpoint",
		"deliverables.s3.region",
		"deliverables.s3.bucket",
		"deliverables.s3.auth_method",
		"deliverables.s3.access_key_id",
		"deliverables.s3.secret_access_key",
		"deliverables.s3.role_arn",
		"deliverables.s3.role_session_name",
		"deliverables.s3.external_id",

		// Security
		"security.cors.allowed_origins",
		"security.rate_limiting.enabled",
		"security.rate_limiting.redeem_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.fail_closed",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Jobs
		"jobs.expired_key_sweep.enabled",
		"jobs.expired_key_sweep.interval",
		"jobs.expired_key_sweep.retention",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/keygate")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment only
	}

	v.SetEnvPrefix("KEYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in secrets
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Auth.CallerTokenSecret = expandEnv(cfg.Auth.CallerTokenSecret)
	cfg.Deliverables.S3.AccessKeyID = expandEnv(cfg.Deliverables.S3.AccessKeyID)
	cfg.Deliverables.S3.SecretAccessKey = expandEnv(cfg.Deliverables.S3.SecretAccessKey)

	// A comma separated env value arrives as a single element
	cfg.Authorization.Owners = splitList(cfg.Authorization.Owners)
	cfg.Security.CORS.AllowedOrigins = splitList(cfg.Security.CORS.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "keygate")
	v.SetDefault("database.user", "keygate")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.caller_token_ttl", "5m")
	v.SetDefault("auth.issuer", "keygate-frontend")

	v.SetDefault("authorization.owners", []string{})

	v.SetDefault("keys.max_batch", 100)

	v.SetDefault("deliverables.backend", "database")
	v.SetDefault("deliverables.offload_threshold_bytes", 65536)
	v.SetDefault("deliverables.local.base_path", "./deliverables")
	v.SetDefault("deliverables.s3.auth_method", "default")

	v.SetDefault("security.cors.allowed_origins", []string{})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.redeem_per_minute", 10)
	v.SetDefault("security.rate_limiting.burst", 5)
	v.SetDefault("security.rate_limiting.fail_closed", false)
	v.SetDefault("security.tls.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	v.SetDefault("jobs.expired_key_sweep.enabled", false)
	v.SetDefault("jobs.expired_key_sweep.interval", "24h")
	v.SetDefault("jobs.expired_key_sweep.retention", "720h")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// splitList flattens comma separated entries and drops blanks.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Auth.CallerTokenSecret == "" {
		return fmt.Errorf("auth.caller_token_secret is required")
	}
	if len(c.Auth.CallerTokenSecret) < 32 {
		return fmt.Errorf("auth.caller_token_secret must be at least 32 characters")
	}

	if c.Keys.MaxBatch < 1 {
		return fmt.Errorf("keys.max_batch must be positive")
	}

	switch c.Deliverables.Backend {
	case "database":
	case "local":
		if c.Deliverables.Local.BasePath == "" {
			return fmt.Errorf("deliverables.local.base_path is required when using the local backend")
		}
	case "s3":
		if c.Deliverables.S3.Bucket == "" {
			return fmt.Errorf("deliverables.s3.bucket is required when using the s3 backend")
		}
		if c.Deliverables.S3.Region == "" {
			return fmt.Errorf("deliverables.s3.region is required when using the s3 backend")
		}
	default:
		return fmt.Errorf("invalid deliverables backend: %s (must be database, local, or s3)", c.Deliverables.Backend)
	}
	if c.Deliverables.Backend != "database" && c.Deliverables.OffloadThresholdBytes < 1 {
		return fmt.Errorf("deliverables.offload_threshold_bytes must be positive")
	}

	if c.Security.RateLimiting.Enabled {
		if c.Security.RateLimiting.RedeemPerMinute < 1 {
			return fmt.Errorf("security.rate_limiting.redeem_per_minute must be positive")
		}
		if c.Security.RateLimiting.Burst < 1 {
			return fmt.Errorf("security.rate_limiting.burst must be positive")
		}
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	if c.Jobs.ExpiredKeySweep.Enabled {
		if c.Jobs.ExpiredKeySweep.Interval <= 0 {
			return fmt.Errorf("jobs.expired_key_sweep.interval must be positive")
		}
		if c.Jobs.ExpiredKeySweep.Retention < 0 {
			return fmt.Errorf("jobs.expired_key_sweep.retention must not be negative")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
