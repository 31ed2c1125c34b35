// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Ledger settings
	OverdraftLimit decimal.Decimal // Maximum negative balance a debit may open

	// Withdrawal settings
	MinWithdrawal decimal.Decimal
	PayoutTimeout time.Duration // Bound on the synchronous gateway call

	// Payout gateway
	PayoutGatewayURL   string // HTTP payout API base URL
	PayoutGatewayToken string
	StripeAPIKey       string // Alternative Stripe-backed gateway

	// Background jobs
	LockSweepInterval  time.Duration
	SettlementInterval time.Duration

	// Security
	RateLimitRPS int
	AdminSecret  string // Admin API secret

	// Tracing
	OTLPEndpoint string // OTLP gRPC collector address (optional)
}

const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultOverdraftLimit     = "10000.00"
	DefaultMinWithdrawal      = "100.00"
	DefaultRateLimit          = 100
	DefaultPayoutTimeout      = 30 * time.Second
	DefaultLockSweepInterval  = 30 * time.Second
	DefaultSettlementInterval = 60 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OverdraftLimit:     getEnvDecimal("OVERDRAFT_LIMIT", DefaultOverdraftLimit),
		MinWithdrawal:      getEnvDecimal("MIN_WITHDRAWAL", DefaultMinWithdrawal),
		PayoutTimeout:      getEnvDuration("PAYOUT_TIMEOUT", DefaultPayoutTimeout),
		PayoutGatewayURL:   os.Getenv("PAYOUT_GATEWAY_URL"),
		PayoutGatewayToken: os.Getenv("PAYOUT_GATEWAY_TOKEN"),
		StripeAPIKey:       os.Getenv("STRIPE_API_KEY"),
		LockSweepInterval:  getEnvDuration("LOCK_SWEEP_INTERVAL", DefaultLockSweepInterval),
		SettlementInterval: getEnvDuration("SETTLEMENT_INTERVAL", DefaultSettlementInterval),
		RateLimitRPS:       int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint:       os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.OverdraftLimit.Sign() < 0 {
		return fmt.Errorf("OVERDRAFT_LIMIT must not be negative")
	}
	if c.MinWithdrawal.Sign() <= 0 {
		return fmt.Errorf("MIN_WITHDRAWAL must be positive")
	}
	if c.PayoutGatewayURL != "" {
		if _, err := url.ParseRequestURI(c.PayoutGatewayURL); err != nil {
			return fmt.Errorf("PAYOUT_GATEWAY_URL is not a valid URL: %w", err)
		}
		if c.PayoutGatewayToken == "" {
			return fmt.Errorf("PAYOUT_GATEWAY_TOKEN is required when PAYOUT_GATEWAY_URL is set")
		}
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}
	return nil
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

func getEnvDecimal(key, defaultValue string) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(defaultValue)
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
