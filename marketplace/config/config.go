package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	DefaultListenAddr     = ":8080"
	DefaultRequestTimeout = 15 * time.Second
	DefaultPollInterval   = 30 * time.Second
	DefaultReadRetryDelay = 250 * time.Millisecond
	DefaultChannelPrefix  = "marketplace"
	DefaultSnapshotTTL    = 10 * time.Minute
)

type RedisConfig struct {
	Enabled       bool
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	SnapshotTTL   time.Duration
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	CommerceAPIURL string
	ListenAddr     string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	ReadRetryDelay time.Duration

	// IdentityServiceURL enables JWKS auth in front of the local gateway.
	IdentityServiceURL string
	// JWTSigningKey, when set, makes sign-in verify HS256 tokens locally.
	JWTSigningKey string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("COMMERCE_API_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "COMMERCE_API_URL", "source", "env")
		cfg.CommerceAPIURL = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if d, ok := envDuration("REQUEST_TIMEOUT_SECONDS", time.Second, logger); ok {
		cfg.RequestTimeout = d
	}
	if d, ok := envDuration("POLL_INTERVAL_SECONDS", time.Second, logger); ok {
		cfg.PollInterval = d
	}
	if val := os.Getenv("READ_RETRY_DELAY_MS"); val != "" {
		// zero is a valid delay here
		if ms, err := strconv.Atoi(val); err == nil && ms >= 0 {
			logger.Debug("Overriding config value", "key", "READ_RETRY_DELAY_MS", "source", "env")
			cfg.ReadRetryDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_SERVICE_URL", "source", "env")
		cfg.IdentityServiceURL = val
	}
	if val := os.Getenv("JWT_SIGNING_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "JWT_SIGNING_KEY", "source", "env")
		cfg.JWTSigningKey = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}
	if val := os.Getenv("REDIS_CHANNEL_PREFIX"); val != "" {
		cfg.Redis.ChannelPrefix = val
	}
	if d, ok := envDuration("REDIS_SNAPSHOT_TTL_SECONDS", time.Second, logger); ok {
		cfg.Redis.SnapshotTTL = d
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.CommerceAPIURL == "" {
		return nil, fmt.Errorf("commerce_api_url is required (set via YAML or COMMERCE_API_URL env var)")
	}
	u, err := url.Parse(cfg.CommerceAPIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("commerce_api_url %q must be an absolute http(s) URL", cfg.CommerceAPIURL)
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis is enabled but no address is set (REDIS_ADDR)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReadRetryDelay < 0 {
		cfg.ReadRetryDelay = DefaultReadRetryDelay
	}
	if cfg.Redis.ChannelPrefix == "" {
		cfg.Redis.ChannelPrefix = DefaultChannelPrefix
	}
	if cfg.Redis.SnapshotTTL <= 0 {
		cfg.Redis.SnapshotTTL = DefaultSnapshotTTL
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func envDuration(key string, unit time.Duration, logger *slog.Logger) (time.Duration, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		logger.Warn("Ignoring invalid config override", "key", key, "value", val)
		return 0, false
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	return time.Duration(n) * unit, true
}
