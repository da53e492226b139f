// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Counter store (Redis)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Durable audit store (optional, uses in-memory if not set)
	DatabaseURL string

	// Risk API
	AllowedCurrencies []string // ISO codes accepted by check-transaction
	MaxCheckAmount    float64  // request-level amount ceiling, currency units

	// Observability / protection
	RateLimitRPM int
	OTLPEndpoint string // OTLP gRPC endpoint; tracing disabled when empty
}

// Defaults
const (
	DefaultPort       = "8080"
	DefaultEnv        = "development"
	DefaultLogLevel   = "info"
	DefaultRedisAddr  = "localhost:6379"
	DefaultRateLimit  = 300
	DefaultMaxAmount  = 1_000_000
	defaultCurrencies = "USD,EUR,GBP,INR"
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		RedisAddr:         getEnv("REDIS_ADDR", DefaultRedisAddr),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           int(getEnvInt64("REDIS_DB", 0)),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // optional, in-memory records if not set
		AllowedCurrencies: splitList(getEnv("ALLOWED_CURRENCIES", defaultCurrencies)),
		MaxCheckAmount:    getEnvFloat("MAX_CHECK_AMOUNT", DefaultMaxAmount),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.MaxCheckAmount <= 0 {
		return fmt.Errorf("MAX_CHECK_AMOUNT must be positive")
	}
	if len(c.AllowedCurrencies) == 0 {
		return fmt.Errorf("ALLOWED_CURRENCIES must not be empty")
	}
	return nil
}

// CurrencyAllowed reports whether code is on the allow-list.
func (c *Config) CurrencyAllowed(code string) bool {
	for _, cur := range c.AllowedCurrencies {
		if cur == code {
			return true
		}
	}
	return false
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
