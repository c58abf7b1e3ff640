package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-marketplace-state/marketplace/config"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		raw := []byte(`
commerce_api_url: "https://api.example.com"
listen_addr: ":9000"
request_timeout_seconds: 20
poll_interval_seconds: 45
read_retry_delay_ms: 100
jwt_signing_key: "k"
cors:
  allowed_origins: ["http://yaml.com"]
  role: "editor"
redis:
  addr: "redis:6379"
  db: 1
  enabled: true
  channel_prefix: "mk"
  snapshot_ttl_seconds: 30
`)
		var yamlCfg config.YamlConfig
		require.NoError(t, yaml.Unmarshal(raw, &yamlCfg))

		cfg, err := config.NewConfigFromYaml(&yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		// 1. Direct Field Mapping
		assert.Equal(t, "https://api.example.com", cfg.CommerceAPIURL)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, 20*time.Second, cfg.RequestTimeout)
		assert.Equal(t, 45*time.Second, cfg.PollInterval)
		assert.Equal(t, 100*time.Millisecond, cfg.ReadRetryDelay)
		assert.Equal(t, "k", cfg.JWTSigningKey)

		// 2. CORS
		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsConfig.AllowedOrigins)
		assert.Equal(t, middleware.CorsRoleEditor, cfg.CorsConfig.Role)

		// 3. Redis
		assert.True(t, cfg.Redis.Enabled)
		assert.Equal(t, "redis:6379", cfg.Redis.Addr)
		assert.Equal(t, 1, cfg.Redis.DB)
		assert.Equal(t, "mk", cfg.Redis.ChannelPrefix)
		assert.Equal(t, 30*time.Second, cfg.Redis.SnapshotTTL)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{CommerceAPIURL: "https://api.example.com"}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		assert.Empty(t, cfg.ListenAddr)
		assert.Zero(t, cfg.PollInterval)
		assert.Equal(t, config.DefaultReadRetryDelay, cfg.ReadRetryDelay)
		assert.False(t, cfg.Redis.Enabled)
	})
}
