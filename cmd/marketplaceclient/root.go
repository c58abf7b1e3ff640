package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-marketplace-state/internal/api"
	"github.com/tinywideclouds/go-marketplace-state/internal/identity"
	"github.com/tinywideclouds/go-marketplace-state/marketplace/config"
)

// tokenEnv carries the bearer token the client signs in with.
const tokenEnv = "MARKETPLACE_TOKEN"

// rootOptions holds what every subcommand shares once the root has run.
type rootOptions struct {
	logger *slog.Logger
	cfg    *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "marketplaceclient",
		Short: "Client-side state for the project marketplace",
		Long: `Keeps purchases, cart, favorites and notifications in sync with the
Commerce API for the signed-in user.

The token is read from ` + tokenEnv + `.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.logger = newLogger()
			cfg, err := loadConfig(opts.logger)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newPurchaseCommand(opts))

	return cmd
}

func newLogger() *slog.Logger {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-marketplace-state")
	slog.SetDefault(logger)
	return logger
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return nil, err
	}
	return config.UpdateConfigWithEnvOverrides(baseCfg, logger)
}

func newIdentityProvider(cfg *config.Config, logger *slog.Logger) *identity.Provider {
	var opts []identity.Option
	if cfg.JWTSigningKey != "" {
		opts = append(opts, identity.WithSigningKey([]byte(cfg.JWTSigningKey)))
	}
	return identity.NewProvider(logger, opts...)
}

func newCommerceClient(cfg *config.Config, idp *identity.Provider, logger *slog.Logger) *api.Client {
	return api.NewClient(
		api.NewHTTPClient(cfg.RequestTimeout),
		cfg.CommerceAPIURL,
		idp,
		logger,
		api.WithReadRetryDelay(cfg.ReadRetryDelay),
	)
}
