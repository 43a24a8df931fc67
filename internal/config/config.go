// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/ingest.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Provider defaults
// --------------------------------------------------------------------------

const (
	DefaultBDLBaseURL  = "https://api.balldontlie.io/nfl/v1"
	DefaultSeason      = 2025
	MaxProviderPerPage = 100
	MaxUpsertBatchSize = 500
)

// --------------------------------------------------------------------------
// Config is populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database. postgres:// enables the change feed, sqlite:// falls back
	// to polling.
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration
	AutoMigrate    bool

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// Logging
	LogLevel  string
	LogFormat string // json, text

	// CORS
	CORSAllowOrigins []string

	// Rate limiting (inbound API)
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Provider
	BDLAPIKey            string
	BDLBaseURL           string
	BDLRequestsPerMinute int
	BDLMaxRetries        int
	BDLPerPage           int

	// Sync engine
	SyncWorkers     int
	SyncBatchSize   int
	SyncLockBackend string // memory, redis
	SyncLockTTL     time.Duration

	// Redis (lock backend)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Notifier
	NotifierPollInterval time.Duration
	WebhookTimeout       time.Duration
	WebhookConcurrency   int
	KafkaBrokers         []string
	KafkaTopic           string

	// Jobs
	JobRetention time.Duration

	// Maintenance
	RefreshSchedule string
	RefreshSeason   int
	RemergeInterval time.Duration

	// Cache
	CacheEnabled bool

	// Tracing
	UptraceDSN     string
	ServiceName    string
	ServiceVersion string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", envOr("SCORACLE_DATABASE_URL", ""))
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or SCORACLE_DATABASE_URL must be set")
	}

	cfg := &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,
		AutoMigrate:    envBool("AUTO_MIGRATE", true),

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "json"),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		BDLAPIKey:            envOr("BALLDONTLIE_API_KEY", ""),
		BDLBaseURL:           envOr("BDL_BASE_URL", DefaultBDLBaseURL),
		BDLRequestsPerMinute: envInt("BDL_REQUESTS_PER_MINUTE", 600),
		BDLMaxRetries:        envInt("BDL_MAX_RETRIES", 3),
		BDLPerPage:           envInt("BDL_PER_PAGE", MaxProviderPerPage),

		SyncWorkers:     envInt("SYNC_WORKERS", 3),
		SyncBatchSize:   envInt("SYNC_BATCH_SIZE", MaxUpsertBatchSize),
		SyncLockBackend: envOr("SYNC_LOCK_BACKEND", "memory"),
		SyncLockTTL:     envDuration("SYNC_LOCK_TTL", 30*time.Minute),

		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envOr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		NotifierPollInterval: envDuration("NOTIFIER_POLL_INTERVAL", 15*time.Second),
		WebhookTimeout:       envDuration("WEBHOOK_TIMEOUT", 7*time.Second),
		WebhookConcurrency:   envInt("WEBHOOK_CONCURRENCY", 4),
		KafkaBrokers:         envList("KAFKA_BROKERS", nil),
		KafkaTopic:           envOr("KAFKA_TOPIC", "scoracle.events"),

		JobRetention: envDuration("JOB_RETENTION", 5*time.Minute),

		RefreshSchedule: envOr("REFRESH_SCHEDULE", ""),
		RefreshSeason:   envInt("REFRESH_SEASON", DefaultSeason),
		RemergeInterval: envDuration("REMERGE_INTERVAL", 0),

		CacheEnabled: envBool("CACHE_ENABLED", true),

		UptraceDSN:     envOr("UPTRACE_DSN", ""),
		ServiceName:    envOr("SERVICE_NAME", "scoracle-pipeline"),
		ServiceVersion: envOr("SERVICE_VERSION", "dev"),
	}

	if cfg.BDLPerPage < 1 || cfg.BDLPerPage > MaxProviderPerPage {
		cfg.BDLPerPage = MaxProviderPerPage
	}
	if cfg.SyncBatchSize < 1 || cfg.SyncBatchSize > MaxUpsertBatchSize {
		cfg.SyncBatchSize = MaxUpsertBatchSize
	}
	if cfg.SyncWorkers < 1 {
		cfg.SyncWorkers = 1
	}
	switch cfg.SyncLockBackend {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("SYNC_LOCK_BACKEND must be memory or redis, got %q", cfg.SyncLockBackend)
	}

	return cfg, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("7s", "15m") or bare seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
