package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-marketplace-state/internal/relay"
	"github.com/tinywideclouds/go-marketplace-state/marketplace"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session and its local HTTP gateway",
		Long: `Signs in with the configured token, loads every cache, polls
notifications and serves the state on the gateway until interrupted.

Example:
  MARKETPLACE_TOKEN=eyJ... marketplaceclient serve
  REDIS_ADDR=localhost:6379 marketplaceclient serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, logger := opts.cfg, opts.logger
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	idp := newIdentityProvider(cfg, logger)
	client := newCommerceClient(cfg, idp, logger)

	// --- Snapshot relay ---
	var rel *relay.Relay
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis snapshot relay...", "addr", cfg.Redis.Addr)
		redisClient, err := relay.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		rel = relay.New(redisClient, cfg.Redis.ChannelPrefix, cfg.Redis.SnapshotTTL, logger)
		defer rel.Close()
	}

	// --- Auth ---
	var authMiddleware func(http.Handler) http.Handler
	if cfg.IdentityServiceURL != "" {
		jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityServiceURL, middleware.RSA256, logger)
		if err != nil {
			return fmt.Errorf("identity discovery failed: %w", err)
		}
		authMiddleware, err = middleware.NewJWKSAuthMiddleware(jwksURL, logger)
		if err != nil {
			return fmt.Errorf("auth middleware failed: %w", err)
		}
	} else {
		logger.Warn("IDENTITY_SERVICE_URL not set. Gateway callers are not authenticated.")
	}

	// --- Session & Gateway ---
	session := marketplace.New(cfg, client, idp, rel, logger)
	if err := session.Start(ctx); err != nil {
		return err
	}

	if token := os.Getenv(tokenEnv); token != "" {
		if err := idp.SignIn(token); err != nil {
			logger.Error("Sign-in with configured token failed", "err", err)
		}
	} else {
		logger.Warn("No token configured; waiting signed out", "env", tokenEnv)
	}

	gateway := marketplace.NewGateway(cfg, session, idp, authMiddleware, logger)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting gateway...", "addr", cfg.ListenAddr)
		if err := gateway.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errCh:
		logger.Error("Gateway stopped with error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway shutdown failed", "err", err)
	}
	// Signing out first clears the relayed snapshots.
	idp.SignOut()
	if err := session.Shutdown(shutdownCtx); err != nil {
		logger.Error("Session shutdown failed", "err", err)
	}
	return runErr
}
