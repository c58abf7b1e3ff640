package config_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-marketplace-state/marketplace/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var overrideKeys = []string{
	"COMMERCE_API_URL", "PORT", "REQUEST_TIMEOUT_SECONDS", "POLL_INTERVAL_SECONDS",
	"READ_RETRY_DELAY_MS", "IDENTITY_SERVICE_URL", "JWT_SIGNING_KEY",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_ENABLED",
	"REDIS_CHANNEL_PREFIX", "REDIS_SNAPSHOT_TTL_SECONDS", "CORS_ALLOWED_ORIGINS",
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range overrideKeys {
		t.Setenv(k, "")
	}
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			CommerceAPIURL: "https://api.example.com/v1",
			ListenAddr:     ":8080",
			PollInterval:   10 * time.Second,
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		clearEnv(t)
		cfg := baseConfig()

		t.Setenv("COMMERCE_API_URL", "http://localhost:3000/api")
		t.Setenv("PORT", "9090")
		t.Setenv("REQUEST_TIMEOUT_SECONDS", "5")
		t.Setenv("POLL_INTERVAL_SECONDS", "60")
		t.Setenv("READ_RETRY_DELAY_MS", "0")
		t.Setenv("JWT_SIGNING_KEY", "secret")
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("REDIS_DB", "2")
		t.Setenv("REDIS_CHANNEL_PREFIX", "shop")
		t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.com, ,http://b.com")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "http://localhost:3000/api", finalCfg.CommerceAPIURL)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, 5*time.Second, finalCfg.RequestTimeout)
		assert.Equal(t, time.Minute, finalCfg.PollInterval)
		assert.Equal(t, time.Duration(0), finalCfg.ReadRetryDelay)
		assert.Equal(t, "secret", finalCfg.JWTSigningKey)
		assert.True(t, finalCfg.Redis.Enabled, "REDIS_ADDR implies enabled")
		assert.Equal(t, "localhost:6379", finalCfg.Redis.Addr)
		assert.Equal(t, 2, finalCfg.Redis.DB)
		assert.Equal(t, "shop", finalCfg.Redis.ChannelPrefix)
		assert.Equal(t, []string{"http://a.com", "http://b.com"}, finalCfg.CorsConfig.AllowedOrigins)
	})

	t.Run("Success - Defaults filled", func(t *testing.T) {
		clearEnv(t)
		cfg := &config.Config{CommerceAPIURL: "https://api.example.com"}

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, config.DefaultListenAddr, finalCfg.ListenAddr)
		assert.Equal(t, config.DefaultRequestTimeout, finalCfg.RequestTimeout)
		assert.Equal(t, config.DefaultPollInterval, finalCfg.PollInterval)
		assert.Equal(t, config.DefaultChannelPrefix, finalCfg.Redis.ChannelPrefix)
		assert.Equal(t, config.DefaultSnapshotTTL, finalCfg.Redis.SnapshotTTL)
		assert.False(t, finalCfg.Redis.Enabled)
	})

	t.Run("Invalid numeric overrides are ignored", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("POLL_INTERVAL_SECONDS", "soon")
		t.Setenv("REQUEST_TIMEOUT_SECONDS", "-1")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, finalCfg.PollInterval)
		assert.Equal(t, config.DefaultRequestTimeout, finalCfg.RequestTimeout)
	})

	t.Run("Validation Failure - Missing API URL", func(t *testing.T) {
		clearEnv(t)
		_, err := config.UpdateConfigWithEnvOverrides(&config.Config{}, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Relative API URL", func(t *testing.T) {
		clearEnv(t)
		_, err := config.UpdateConfigWithEnvOverrides(&config.Config{CommerceAPIURL: "/api"}, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Redis enabled without address", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("REDIS_ENABLED", "true")
		_, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		assert.Error(t, err)
	})
}
