// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/notifyctl.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Store backends
// --------------------------------------------------------------------------

const (
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// --------------------------------------------------------------------------
// Collection names: single source of truth, matches schema.sql
// --------------------------------------------------------------------------

const (
	UsersCollection         = "users"
	TokenEventsCollection   = "token_events"
	DailyMetricsCollection  = "daily_metrics"
	SystemMetricsCollection = "system_metrics"
	CheckInsCollection      = "check_ins"
)

// --------------------------------------------------------------------------
// Config struct: populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Store
	StoreBackend   string
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// Firebase / GCP
	FirebaseProjectID       string
	FirebaseCredentialsFile string
	CheckInSubscription     string
	CheckInChannel          string

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	LogLevel    slog.Level

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Workers
	ReminderInterval        time.Duration
	SweepInterval           time.Duration
	MetricsInterval         time.Duration
	DeliveryWorkers         int
	SweepBatchSize          int
	SweepBatchPause         time.Duration
	TelemetryFlushThreshold int

	// Notification copy
	AlertTitleFormat string

	// Cache
	CacheEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	backend := strings.ToLower(envOr("STORE_BACKEND", BackendPostgres))
	dbURL := envOr("DATABASE_URL", "")

	switch backend {
	case BackendPostgres:
		if dbURL == "" {
			return nil, fmt.Errorf("DATABASE_URL must be set when STORE_BACKEND=postgres")
		}
	case BackendFirestore:
		if envOr("FIREBASE_PROJECT_ID", "") == "" {
			return nil, fmt.Errorf("FIREBASE_PROJECT_ID must be set when STORE_BACKEND=firestore")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q (want postgres or firestore)", backend)
	}

	titleFormat := envOr("ALERT_TITLE_FORMAT", "Danoggin Alert: %s check-in")
	if !strings.Contains(titleFormat, "%s") {
		return nil, fmt.Errorf("ALERT_TITLE_FORMAT must contain %%s for the check-in result")
	}

	return &Config{
		StoreBackend:   backend,
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		FirebaseProjectID:       envOr("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsFile: envOr("FIREBASE_CREDENTIALS_FILE", envOr("GOOGLE_APPLICATION_CREDENTIALS", "")),
		CheckInSubscription:     envOr("CHECKIN_SUBSCRIPTION", "checkin-recorded-sub"),
		CheckInChannel:          envOr("CHECKIN_CHANNEL", "checkin_recorded"),

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		LogLevel:    envLevel("LOG_LEVEL", slog.LevelInfo),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		ReminderInterval:        time.Duration(envInt("REMINDER_INTERVAL_SECONDS", 300)) * time.Second,
		SweepInterval:           time.Duration(envInt("SWEEP_INTERVAL_HOURS", 168)) * time.Hour,
		MetricsInterval:         time.Duration(envInt("METRICS_INTERVAL_HOURS", 24)) * time.Hour,
		DeliveryWorkers:         max(envInt("DELIVERY_WORKERS", 8), 1),
		SweepBatchSize:          max(envInt("SWEEP_BATCH_SIZE", 50), 1),
		SweepBatchPause:         time.Duration(envInt("SWEEP_BATCH_PAUSE_MS", 1000)) * time.Millisecond,
		TelemetryFlushThreshold: max(envInt("TELEMETRY_FLUSH_THRESHOLD", 100), 1),

		AlertTitleFormat: titleFormat,

		CacheEnabled: envBool("CACHE_ENABLED", true),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// PushEnabled reports whether enough Firebase configuration is present to
// build a messaging client. Without a credentials file the Firebase SDK falls
// back to application default credentials, which needs a project ID.
func (c *Config) PushEnabled() bool {
	return c.FirebaseCredentialsFile != "" || c.FirebaseProjectID != ""
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

func envLevel(key string, fallback slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			return lvl
		}
	}
	return fallback
}
