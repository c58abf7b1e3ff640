package config

import (
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr               string `yaml:"addr"`
	Password           string `yaml:"password"`
	DB                 int    `yaml:"db"`
	Enabled            bool   `yaml:"enabled"`
	ChannelPrefix      string `yaml:"channel_prefix"`
	SnapshotTTLSeconds int    `yaml:"snapshot_ttl_seconds"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	CommerceAPIURL        string          `yaml:"commerce_api_url"`
	ListenAddr            string          `yaml:"listen_addr"`
	RequestTimeoutSeconds int             `yaml:"request_timeout_seconds"`
	PollIntervalSeconds   int             `yaml:"poll_interval_seconds"`
	ReadRetryDelayMs      *int            `yaml:"read_retry_delay_ms"`
	IdentityServiceURL    string          `yaml:"identity_service_url"`
	JWTSigningKey         string          `yaml:"jwt_signing_key"`
	CorsConfig            YamlCorsConfig  `yaml:"cors"`
	RedisConfig           YamlRedisConfig `yaml:"redis"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		CommerceAPIURL:     baseCfg.CommerceAPIURL,
		ListenAddr:         baseCfg.ListenAddr,
		RequestTimeout:     time.Duration(baseCfg.RequestTimeoutSeconds) * time.Second,
		PollInterval:       time.Duration(baseCfg.PollIntervalSeconds) * time.Second,
		ReadRetryDelay:     DefaultReadRetryDelay,
		IdentityServiceURL: baseCfg.IdentityServiceURL,
		JWTSigningKey:      baseCfg.JWTSigningKey,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:          baseCfg.RedisConfig.Addr,
			Password:      baseCfg.RedisConfig.Password,
			DB:            baseCfg.RedisConfig.DB,
			Enabled:       baseCfg.RedisConfig.Enabled,
			ChannelPrefix: baseCfg.RedisConfig.ChannelPrefix,
			SnapshotTTL:   time.Duration(baseCfg.RedisConfig.SnapshotTTLSeconds) * time.Second,
		},
	}
	if baseCfg.ReadRetryDelayMs != nil {
		cfg.ReadRetryDelay = time.Duration(*baseCfg.ReadRetryDelayMs) * time.Millisecond
	}

	logger.Debug("YAML config mapping complete",
		"commerce_api_url", cfg.CommerceAPIURL,
		"listen_addr", cfg.ListenAddr,
		"redis_enabled", cfg.Redis.Enabled,
	)

	return cfg, nil
}
