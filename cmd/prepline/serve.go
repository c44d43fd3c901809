// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/prepline/prepline/internal/auth"
	"github.com/prepline/prepline/internal/auth/identity"
	authpg "github.com/prepline/prepline/internal/auth/postgres"
	"github.com/prepline/prepline/internal/config"
	"github.com/prepline/prepline/internal/httpapi"
	"github.com/prepline/prepline/internal/logging"
	"github.com/prepline/prepline/internal/observability"
	"github.com/prepline/prepline/internal/store"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth API server",
		Long: `Start the HTTP API server. Applies pending database migrations,
guarantees a bootstrap manager account exists, and serves the
authentication endpoints until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd)
		},
	}

	// Flag names double as config file keys. Secrets are file- or
	// environment-only so they stay out of process listings.
	cmd.Flags().String("environment", config.EnvDevelopment, "environment (development or production)")
	cmd.Flags().String("listen-addr", ":8080", "API listen address")
	cmd.Flags().String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection string")
	cmd.Flags().String("log-format", "json", "log format (json or text)")
	cmd.Flags().Duration("token-ttl", auth.SessionTokenTTL, "session token lifetime")
	cmd.Flags().String("bootstrap-username", "manager", "bootstrap manager username")
	cmd.Flags().String("provider-url", "", "external identity provider base URL (empty = disabled)")
	cmd.Flags().Duration("provider-timeout", identity.DefaultTimeout, "identity provider request timeout")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, cmd *cobra.Command) error {
	logging.SetDefault("prepline", version, cfg.LogFormat)

	// Fail fast on a missing secret rather than on the first request.
	if _, err := cfg.ResolveAuthSecret(); err != nil {
		return err
	}

	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database-url is required (or set DATABASE_URL)")
	}

	slog.Info("starting auth service",
		"environment", cfg.Environment,
		"listen_addr", cfg.ListenAddr,
		"provider_configured", cfg.ProviderConfigured(),
	)

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	slog.Info("connected to database")

	if err := applyMigrations(cfg.DatabaseURL); err != nil {
		return err
	}

	repo := authpg.NewAccountRepository(pool)
	hasher := auth.NewScryptHasher()

	var provider auth.IdentityProvider
	var linker *auth.IdentityLinker
	if cfg.ProviderConfigured() {
		client, err := identity.NewClient(identity.Config{
			BaseURL:    cfg.ProviderURL,
			ServiceKey: cfg.ProviderServiceKey,
			Timeout:    cfg.ProviderTimeout,
		})
		if err != nil {
			return oops.Code("PROVIDER_INIT_FAILED").Wrap(err)
		}
		provider = client

		linker, err = auth.NewIdentityLinker(client, repo)
		if err != nil {
			return oops.Code("PROVIDER_INIT_FAILED").Wrap(err)
		}
		slog.Info("identity provider configured", "url", cfg.ProviderURL)
	}

	service, err := auth.NewService(repo, hasher, provider, auth.BootstrapCredentials{
		Username: cfg.BootstrapUsername,
		Password: cfg.BootstrapPassword,
	})
	if err != nil {
		return oops.Code("SERVICE_INIT_FAILED").Wrap(err)
	}

	if err := service.EnsureBootstrapManager(ctx); err != nil {
		return oops.Code("BOOTSTRAP_FAILED").Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start observability server if configured
	var obsServer *observability.Server
	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool {
			return pool.Ping(ctx) == nil
		})
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		metrics = obsServer.Metrics()
	}

	apiServer, err := httpapi.NewServer(cfg, service, linker, slog.Default(), metrics)
	if err != nil {
		return oops.Code("API_INIT_FAILED").Wrap(err)
	}
	apiErrChan, err := apiServer.Start()
	if err != nil {
		stopObservability(obsServer)
		return oops.Code("API_START_FAILED").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Auth service started")
	slog.Info("auth service ready", "addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping api server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// applyMigrations brings the schema up to date before serving.
func applyMigrations(databaseURL string) error {
	migrator, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Debug("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return err
	}
	slog.Info("migrations applied")
	return nil
}

func stopObservability(obsServer *observability.Server) {
	if obsServer == nil {
		return
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := obsServer.Stop(shutdownCtx); err != nil {
		slog.Warn("failed to stop observability server during cleanup", "error", err)
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// This ensures that server failures trigger graceful shutdown of the entire process.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
