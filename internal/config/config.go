// Package config provides application configuration management.
// It loads settings from environment variables with a .env fallback and
// validates everything at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server Configuration
	Port            string
	LogLevel        string
	ShutdownTimeout time.Duration

	// Data Configuration
	DataDir           string        // Data directory for the SQLite equipment store
	SnapshotPath      string        // Local snapshot file (gzip JSON array of records)
	SnapshotPoll      time.Duration // How often to check R2 for a new snapshot
	SessionTTL        time.Duration // Idle lifetime of a search session
	SessionSweep      time.Duration // How often expired sessions are collected
	PageSize          int           // Items per search result page
	StoreQueryTimeout time.Duration // Per-query deadline against the store

	// Rate Limits (Token Bucket Algorithm)
	ClientRateBurst  float64 // Maximum burst tokens per client (default: 20)
	ClientRateRefill float64 // Tokens refilled per second (default: 1)

	// Metrics Authentication
	MetricsUsername string // Username for /metrics endpoint Basic Auth (default: "prometheus")
	MetricsPassword string // Password for /metrics endpoint Basic Auth (empty = no auth)

	// R2 Snapshot Feature
	R2Enabled     bool
	R2Endpoint    string
	R2AccessKeyID string
	R2SecretKey   string
	R2BucketName  string
	R2SnapshotKey string

	// Sentry Feature
	SentryToken       string
	SentryHost        string
	SentryEnvironment string
	SentrySampleRate  float64

	// Better Stack Feature
	BetterStackToken    string
	BetterStackEndpoint string
}

// Load reads configuration from environment variables.
// It attempts to load a .env file first, then reads from env vars.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		// Server Configuration
		Port:            getEnv("PORT", "10000"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		// Data Configuration
		DataDir:           getEnv("DATA_DIR", getDefaultDataDir()),
		SnapshotPath:      getEnv("SNAPSHOT_PATH", ""),
		SnapshotPoll:      getDurationEnv("SNAPSHOT_POLL_INTERVAL", 15*time.Minute),
		SessionTTL:        getDurationEnv("SESSION_TTL", 30*time.Minute),
		SessionSweep:      getDurationEnv("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		PageSize:          getIntEnv("PAGE_SIZE", 20),
		StoreQueryTimeout: getDurationEnv("STORE_QUERY_TIMEOUT", 10*time.Second),

		// Rate Limits
		ClientRateBurst:  getFloatEnv("CLIENT_RATE_BURST", 20.0),
		ClientRateRefill: getFloatEnv("CLIENT_RATE_REFILL_PER_SEC", 1.0),

		// Metrics Authentication
		MetricsUsername: getEnv("METRICS_USERNAME", "prometheus"),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),

		// R2 Snapshot Feature
		R2Enabled:     getBoolEnv("R2_ENABLED", false),
		R2Endpoint:    getEnv("R2_ENDPOINT", ""),
		R2AccessKeyID: getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretKey:   getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:  getEnv("R2_BUCKET_NAME", ""),
		R2SnapshotKey: getEnv("R2_SNAPSHOT_KEY", "snapshots/equipment.json.gz"),

		// Sentry Feature
		SentryToken:       getEnv("SENTRY_TOKEN", ""),
		SentryHost:        getEnv("SENTRY_HOST", "errors.betterstack.com"),
		SentryEnvironment: getEnv("SENTRY_ENVIRONMENT", "production"),
		SentrySampleRate:  getFloatEnv("SENTRY_SAMPLE_RATE", 1.0),

		// Better Stack Feature
		BetterStackToken:    getEnv("BETTERSTACK_TOKEN", ""),
		BetterStackEndpoint: getEnv("BETTERSTACK_ENDPOINT", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if required configuration values are set
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("DATA_DIR is required"))
	}
	if c.PageSize <= 0 || c.PageSize > 100 {
		errs = append(errs, fmt.Errorf("PAGE_SIZE must be in 1..100, got %d", c.PageSize))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive, got %v", c.SessionTTL))
	}
	if c.StoreQueryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("STORE_QUERY_TIMEOUT must be positive, got %v", c.StoreQueryTimeout))
	}
	if c.ClientRateBurst <= 0 || c.ClientRateRefill <= 0 {
		errs = append(errs, errors.New("client rate limits must be positive"))
	}
	if c.R2Enabled {
		if c.R2Endpoint == "" || c.R2AccessKeyID == "" || c.R2SecretKey == "" || c.R2BucketName == "" {
			errs = append(errs, errors.New("R2_ENDPOINT, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY and R2_BUCKET_NAME are required when R2_ENABLED"))
		}
	} else if c.SnapshotPath == "" {
		errs = append(errs, errors.New("SNAPSHOT_PATH is required when R2 is disabled"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// getEnv retrieves environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves integer environment variable with fallback to default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getBoolEnv retrieves boolean environment variable with fallback to default value
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getDurationEnv retrieves duration environment variable with fallback to default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getFloatEnv retrieves float64 environment variable with fallback to default value
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getDefaultDataDir returns platform-specific default data directory
func getDefaultDataDir() string {
	if runtime.GOOS == "windows" {
		return "./data"
	}
	return "/data"
}

// SQLitePath returns the full path to the SQLite equipment database.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "equipment.db")
}
