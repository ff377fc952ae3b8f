package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on hosts without a zoneinfo database

	"hazine/internal/log"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	// HTTP Server
	Port               string
	CORSAllowedOrigins []string
	RateLimitPerMinute int

	// Database
	DataBackend       string
	SQLiteDBPath      string
	DatabaseURL       string
	DatabaseAuthToken string

	// Exchange rate provider
	NavasanAPIKey   string
	NavasanBaseURL  string
	ExchangeRateTTL time.Duration

	// AMQP, disabled when AMQPURL is empty
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string
	AMQPQueue      string

	// Logging
	LogLevel  string
	LogFormat string

	// Reports
	Timezone        string
	ReportCacheTTL  time.Duration
	ReportCacheSize int
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		DataBackend:       getEnv("DATA_BACKEND", BackendSQLite),
		SQLiteDBPath:      getEnv("SQLITE_DB_PATH", "./data/hazine.db"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DatabaseAuthToken: getEnv("DATABASE_AUTH_TOKEN", ""),

		NavasanAPIKey:   getEnv("NAVASAN_API_KEY", ""),
		NavasanBaseURL:  getEnv("NAVASAN_BASE_URL", "https://api.navasan.tech"),
		ExchangeRateTTL: getEnvDuration("EXCHANGE_RATE_TTL", 24*time.Hour),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "hazine"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "expenses"),
		AMQPQueue:      getEnv("AMQP_QUEUE", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", log.FormatTint),

		Timezone:        getEnv("TIMEZONE", "Asia/Tehran"),
		ReportCacheTTL:  getEnvDuration("REPORT_CACHE_TTL", 5*time.Minute),
		ReportCacheSize: getEnvInt("REPORT_CACHE_SIZE", 64),
	}

	return cfg
}

// Location loads Timezone. Validate has already rejected unknown zones.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Validate validates the configuration and returns an error listing every
// problem found.
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DataBackend {
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, []string{BackendSQLite, BackendPostgres}))
	}

	if c.NavasanBaseURL == "" {
		errors = append(errors, "NAVASAN_BASE_URL cannot be empty")
	} else if u, err := url.Parse(c.NavasanBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errors = append(errors, fmt.Sprintf("invalid NAVASAN_BASE_URL '%s': must be an http(s) URL", c.NavasanBaseURL))
	}
	if c.ExchangeRateTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid exchange rate TTL %v: must be at least 1 minute", c.ExchangeRateTTL))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL: %v", err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRoutingKey == "" {
			errors = append(errors, "AMQP routing key cannot be empty when AMQP URL is provided")
		}
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s'", c.LogLevel))
	}
	switch c.LogFormat {
	case log.FormatTint, log.FormatJSON, log.FormatText:
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, []string{log.FormatTint, log.FormatJSON, log.FormatText}))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be 0 (disabled) or positive", c.RateLimitPerMinute))
	}
	if c.ReportCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid report cache TTL %v: cannot be negative", c.ReportCacheTTL))
	}
	if c.ReportCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid report cache size %d: must be at least 1", c.ReportCacheSize))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Redacted returns the settings safe to log at startup.
func (c *Config) Redacted() []any {
	return []any{
		"port", c.Port,
		"data_backend", c.DataBackend,
		"sqlite_db_path", c.SQLiteDBPath,
		"navasan_configured", c.NavasanAPIKey != "",
		"exchange_rate_ttl", c.ExchangeRateTTL.String(),
		"amqp_enabled", c.AMQPURL != "",
		"timezone", c.Timezone,
		"rate_limit_per_minute", c.RateLimitPerMinute,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
