// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/scheduler.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Table names — single source of truth, matches migrations/schema.sql
// --------------------------------------------------------------------------

const (
	TasksTable       = "tasks"
	UsersTable       = "users"
	DevicesTable     = "user_devices"
	AssignmentsTable = "daily_assignments"
	AttemptsTable    = "notification_attempts"
	CountersTable    = "global_counters"
)

// --------------------------------------------------------------------------
// Config struct — populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Scheduler
	TriggerGranularity  time.Duration // trigger tick interval and eligibility bucket width
	HistoryWindowDays   int           // no-repeat window for task selection
	FallbackTimezone    string        // used when a user has no stored timezone
	MaxTransientRetries int           // per user-day cap on transient redelivery

	// Fan-out
	BatchSize        int    // multicast transport upper bound per call
	FanoutWorkers    int    // bounded parallelism across batches
	CounterResetZone string // reference zone for today_completed reset

	// Push transport
	FCMCredentialsFile string

	// Cache
	CacheEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", envOr("DAILYDEED_DATABASE_URL", ""))
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or DAILYDEED_DATABASE_URL must be set")
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:8081",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		TriggerGranularity:  time.Duration(envInt("TRIGGER_GRANULARITY_MINUTES", 15)) * time.Minute,
		HistoryWindowDays:   envInt("HISTORY_WINDOW_DAYS", 7),
		FallbackTimezone:    envOr("FALLBACK_TIMEZONE", "UTC"),
		MaxTransientRetries: envInt("MAX_TRANSIENT_RETRIES", 6),

		BatchSize:        envInt("FANOUT_BATCH_SIZE", 500),
		FanoutWorkers:    envInt("FANOUT_WORKERS", 4),
		CounterResetZone: envOr("COUNTER_RESET_ZONE", "UTC"),

		FCMCredentialsFile: envOr("FIREBASE_CREDENTIALS_FILE", ""),

		CacheEnabled: envBool("CACHE_ENABLED", true),
	}, nil
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
