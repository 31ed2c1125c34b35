package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "OVERDRAFT_LIMIT", "5000.00")
	setEnv(t, "PAYOUT_TIMEOUT", "10s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.OverdraftLimit.Equal(decimal.RequireFromString("5000.00")))
	assert.Equal(t, 10*time.Second, cfg.PayoutTimeout)
	assert.True(t, cfg.MinWithdrawal.Equal(decimal.RequireFromString(DefaultMinWithdrawal)))
}

func TestLoad_GatewayURLRequiresToken(t *testing.T) {
	setEnv(t, "PAYOUT_GATEWAY_URL", "https://payouts.example.com")
	setEnv(t, "PAYOUT_GATEWAY_TOKEN", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "PAYOUT_GATEWAY_TOKEN is required")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		OverdraftLimit: decimal.RequireFromString("10000.00"),
		MinWithdrawal:  decimal.RequireFromString("100.00"),
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "negative overdraft limit",
			mutate:  func(c *Config) { c.OverdraftLimit = decimal.RequireFromString("-1") },
			wantErr: "OVERDRAFT_LIMIT",
		},
		{
			name:    "zero minimum withdrawal",
			mutate:  func(c *Config) { c.MinWithdrawal = decimal.Zero },
			wantErr: "MIN_WITHDRAWAL",
		},
		{
			name: "bad gateway URL",
			mutate: func(c *Config) {
				c.PayoutGatewayURL = "not a url"
				c.PayoutGatewayToken = "tok"
			},
			wantErr: "PAYOUT_GATEWAY_URL",
		},
		{
			name: "production requires database",
			mutate: func(c *Config) {
				c.Env = "production"
			},
			wantErr: "DATABASE_URL is required in production",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDecimal(t *testing.T) {
	setEnv(t, "TEST_DEC", "123.45")
	setEnv(t, "TEST_DEC_INVALID", "abc")

	assert.True(t, getEnvDecimal("TEST_DEC", "0").Equal(decimal.RequireFromString("123.45")))
	assert.True(t, getEnvDecimal("TEST_DEC_INVALID", "7.00").Equal(decimal.RequireFromString("7.00")))
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "45s")
	setEnv(t, "TEST_DUR_INVALID", "soon")

	assert.Equal(t, 45*time.Second, getEnvDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DUR_INVALID", time.Minute))
}
