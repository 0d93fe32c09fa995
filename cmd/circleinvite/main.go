// Package main is the entrypoint for the circleinvite server.
//
// Usage:
//
//	circleinvite [serve] [flags]   run the HTTP server (default)
//	circleinvite token [flags]     print a bearer token for local testing
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/MahdiBaghbani/circleinvite/internal/components/directory"
	"github.com/MahdiBaghbani/circleinvite/internal/components/identity"
	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
	invsvc "github.com/MahdiBaghbani/circleinvite/internal/components/invitations/service"
	"github.com/MahdiBaghbani/circleinvite/internal/components/notify"
	"github.com/MahdiBaghbani/circleinvite/internal/frameworks/service"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/cache"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/config"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/deps"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/http/client"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/http/ratelimit"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/http/server"
	tlspkg "github.com/MahdiBaghbani/circleinvite/internal/platform/http/tls"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/logutil"
	"github.com/MahdiBaghbani/circleinvite/internal/store"

	// Register HTTP services, store drivers and cache drivers
	_ "github.com/MahdiBaghbani/circleinvite/internal/platform/cache/loader"
	_ "github.com/MahdiBaghbani/circleinvite/internal/services/loader"
	_ "github.com/MahdiBaghbani/circleinvite/internal/store/loader"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && (args[0] == "serve" || args[0] == "token") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "token":
		err = runToken(args, os.Stdout)
	default:
		err = runServe(args)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "circleinvite:", err)
		os.Exit(1)
	}
}

// loadConfig parses the flags shared by every subcommand and loads the
// layered configuration.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	configPath := fs.String("config", "", "Path to TOML config file (optional)")
	modeFlag := fs.String("mode", "", "Operating mode: strict or dev (overrides config)")
	listenAddr := fs.String("listen", "", "Listen address (overrides config)")
	loggingLevel := fs.String("logging-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	storeDriver := fs.String("store-driver", "", "Store driver: memory, json, sqlite, postgres, dynamodb (overrides config)")
	storeDataDir := fs.String("store-data-dir", "", "Data directory for json and sqlite (overrides config)")
	linkMode := fs.String("link-mode", "", "Link minter: random or jwt (overrides config)")
	sweeperEnabled := fs.String("sweeper-enabled", "", "Run the expiry sweeper: true or false (overrides config)")
	tlsMode := fs.String("tls-mode", "", "TLS mode: off, static, selfsigned, acme (overrides config)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Bootstrap logger for config loading (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Precedence: mode preset -> TOML file -> environment -> CLI flags
	return config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:     listenAddr,
			LoggingLevel:   loggingLevel,
			StoreDriver:    storeDriver,
			StoreDataDir:   storeDataDir,
			LinkMode:       linkMode,
			SweeperEnabled: sweeperEnabled,
			TLSMode:        tlsMode,
		},
		Logger: bootstrapLogger,
	})
}

func runServe(args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet("serve", flag.ContinueOnError), args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logutil.New(os.Stdout, cfg.Logging.Level)
	slog.SetDefault(logger)

	// Log effective config with secrets redacted
	logger.Info("effective configuration", "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.New(cfg.DriverConfig())
	if err != nil {
		return fmt.Errorf("failed to create store: %w (available: %v)", err, store.AvailableDrivers())
	}
	if err := repo.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize store %s: %w", repo.Name(), err)
	}
	defer repo.Close()
	logger.Info("store initialized", "driver", repo.Name())

	secret := []byte(cfg.Auth.JWTSecret)

	engine, err := newEngine(cfg, secret)
	if err != nil {
		return err
	}

	notifier, err := newNotifier(cfg, secret, logger)
	if err != nil {
		return err
	}

	dir := directory.NewMemoryFromConfig(cfg.Contacts, cfg.Teams)
	invitationSvc := invsvc.New(engine, repo,
		invsvc.WithContacts(dir),
		invsvc.WithTeams(dir),
		invsvc.WithNotifier(notifier),
		invsvc.WithLogger(logger),
		invsvc.WithDefaultExpirationDays(cfg.Invitations.DefaultExpirationDays),
	)

	tokens, err := identity.NewTokenIssuer(secret, cfg.Auth.Issuer, cfg.TokenTTL())
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}

	var linkLimiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		counter, err := cache.NewFromConfig(cfg.Cache.Driver, cfg.Cache.Drivers)
		if err != nil {
			return fmt.Errorf("failed to create cache: %w", err)
		}
		defer counter.Close()
		linkLimiter = ratelimit.New(counter, ratelimit.Config{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			Window:            cfg.RateLimitWindow(),
			Scope:             "links",
			TrustForwardedFor: cfg.Server.TrustForwardedFor,
		}, logger)
		logger.Info("link rate limiting enabled", "cache", cfg.Cache.Driver, "requests_per_window", cfg.RateLimit.RequestsPerWindow)
	}

	deps.SetDeps(&deps.Deps{
		Config:      cfg,
		Invitations: invitationSvc,
		Store:       repo,
		Tokens:      tokens,
		LinkLimiter: linkLimiter,
	})

	services, err := service.Build(slices.Sorted(maps.Keys(cfg.HTTP.Services)), cfg.BuildServiceConfig, logger)
	if err != nil {
		return err
	}

	tlsConfig, challenges, err := tlspkg.Provision(ctx, cfg.Server.TLS, logger)
	if err != nil {
		return fmt.Errorf("failed to provision TLS (%s): %w", cfg.Server.TLS.Mode, err)
	}
	if challenges != nil {
		defer challenges.Close()
	}

	srv, err := server.New(cfg, logger, services, server.WithTLS(tlsConfig))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if cfg.Sweeper.Enabled {
		go invsvc.NewSweeper(invitationSvc, cfg.SweepInterval(), logger).Run(ctx)
		logger.Info("expiry sweeper started", "interval", cfg.SweepInterval())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("server started, press Ctrl+C to stop")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newEngine(cfg *config.Config, secret []byte) (*invitations.Engine, error) {
	opts := []invitations.Option{
		invitations.WithMaxExpirationDays(cfg.Invitations.MaxExpirationDays),
	}
	if cfg.Invitations.LinkMode == "jwt" {
		key, err := identity.DeriveKey(secret, identity.PurposeLinks)
		if err != nil {
			return nil, fmt.Errorf("failed to derive link key: %w", err)
		}
		opts = append(opts, invitations.WithLinkMinter(invitations.JWTLinks{Key: key, Issuer: cfg.Auth.Issuer}))
	}
	return invitations.NewEngine(opts...), nil
}

// newNotifier always logs events and additionally posts them when a
// webhook URL is configured.
func newNotifier(cfg *config.Config, secret []byte, logger *slog.Logger) (notify.Notifier, error) {
	logNotifier := notify.NewLog(logger)
	if cfg.Webhook.URL == "" {
		return logNotifier, nil
	}

	key := []byte(cfg.Webhook.Secret)
	if len(key) == 0 {
		var err error
		key, err = identity.DeriveKey(secret, identity.PurposeWebhook)
		if err != nil {
			return nil, fmt.Errorf("failed to derive webhook key: %w", err)
		}
	}

	rootCAs, err := tlspkg.BuildRootCAPool(cfg.Webhook.RootCAFile, "")
	if err != nil {
		return nil, fmt.Errorf("webhook %w", err)
	}

	httpClient := client.New(&client.Config{
		SSRFMode:  cfg.Webhook.SSRFMode,
		TimeoutMS: cfg.Webhook.TimeoutMS,
		RootCAs:   rootCAs,
	})
	logger.Info("webhook notifications enabled", "url", cfg.Webhook.URL, "ssrf_mode", cfg.Webhook.SSRFMode)
	return notify.Multi{logNotifier, notify.NewWebhook(httpClient, cfg.Webhook.URL, key)}, nil
}
