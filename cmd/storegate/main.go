package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"

	"github.com/mattjoyce/storegate/internal/api"
	"github.com/mattjoyce/storegate/internal/auth"
	"github.com/mattjoyce/storegate/internal/bridge"
	"github.com/mattjoyce/storegate/internal/config"
	"github.com/mattjoyce/storegate/internal/lock"
	"github.com/mattjoyce/storegate/internal/log"
	"github.com/mattjoyce/storegate/internal/oauth"
	"github.com/mattjoyce/storegate/internal/platform"
	"github.com/mattjoyce/storegate/internal/provision"
	"github.com/mattjoyce/storegate/internal/storage"
	"github.com/mattjoyce/storegate/internal/store"
	"github.com/mattjoyce/storegate/internal/telemetry"
	"github.com/mattjoyce/storegate/internal/voice"
	"github.com/mattjoyce/storegate/internal/webhook"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "version":
		fmt.Printf("storegate version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `storegate - inbound integration gateway for the shop extension

Usage:
  storegate <command> [flags]

Commands:
  start     Start the gateway in the foreground
  version   Show version information
  help      Show this help message

Flags (start):
  --config PATH   Config file or directory. Defaults to $STOREGATE_CONFIG,
                  ~/.config/storegate/config.yaml, /etc/storegate/config.yaml,
                  ./config.yaml, in that order.
`)
}

func loadConfig(name string, args []string) (*config.Config, string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	if *configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			return nil, "", fmt.Errorf("discover config: %w", err)
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, *configPath, err
	}
	return cfg, *configPath, nil
}

func runStart(args []string) int {
	cfg, path, err := loadConfig("start", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("storegate starting", "version", version, "config", path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Store.Driver == storage.DriverSQLite {
		if lockPath := lock.PathFor(cfg.Store.DSN); lockPath != "" {
			pidLock, err := lock.AcquirePIDLock(lockPath)
			if err != nil {
				logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
				return 1
			}
			defer func() { _ = pidLock.Release() }()
			logger.Info("acquired PID lock", "path", lockPath)
		}
	}

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	primary, fallback, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		return 1
	}
	defer closeStores()

	components, err := wire(cfg, primary, fallback, tp)
	if err != nil {
		logger.Error("failed to wire components", "error", err)
		return 1
	}

	srv := api.New(api.Config{
		Listen:          cfg.Service.Listen,
		ShutdownTimeout: cfg.Service.ShutdownTimeout,
		Version:         version,
	}, components, log.WithComponent("api"))

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", "error", err)
		return 1
	}
	logger.Info("storegate stopped")
	return 0
}

// openStores opens the primary database and, when configured, a second
// connection to it under the fallback credential that tenant writes fall
// through to.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, *store.Store, func(), error) {
	var dbs []*sqlx.DB
	closeAll := func() {
		for _, db := range dbs {
			_ = db.Close()
		}
	}

	db, err := storage.Open(ctx, storage.Options{
		Driver:       cfg.Store.Driver,
		DSN:          cfg.Store.DSN,
		MaxOpenConns: cfg.Store.MaxOpenConns,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	dbs = append(dbs, db)
	primary := store.New(db, store.Config{Name: "primary", DomainSuffix: cfg.Platform.DomainSuffix})
	logger.Info("store opened", "driver", cfg.Store.Driver)

	if cfg.Store.FallbackDSN == "" {
		return primary, nil, closeAll, nil
	}

	fdb, err := storage.Open(ctx, storage.Options{
		Driver: cfg.Store.FallbackDriver,
		DSN:    cfg.Store.FallbackDSN,
	})
	if err != nil {
		// The gateway still runs on the primary alone.
		logger.Warn("fallback store unavailable", "driver", cfg.Store.FallbackDriver, "error", err)
		return primary, nil, closeAll, nil
	}
	dbs = append(dbs, fdb)
	logger.Info("fallback store opened", "driver", cfg.Store.FallbackDriver)
	return primary, store.New(fdb, store.Config{Name: "fallback", DomainSuffix: cfg.Platform.DomainSuffix}), closeAll, nil
}

// wire builds every request handler from configuration.
func wire(cfg *config.Config, primary, fallback *store.Store, tp *telemetry.Provider) (api.Components, error) {
	maxBody, err := cfg.Webhooks.MaxBodyBytes()
	if err != nil {
		return api.Components{}, fmt.Errorf("webhooks.max_body_size: %w", err)
	}

	writers := []store.TenantWriter{primary}
	if fallback != nil {
		writers = append(writers, fallback)
	}
	tenants := store.NewTenantChain(log.WithComponent("store"), writers...)

	pc := platform.New(platform.Config{
		ClientID:     cfg.Platform.ClientID,
		ClientSecret: cfg.Platform.ClientSecret,
		Scopes:       cfg.Platform.Scopes,
		APIVersion:   cfg.Platform.APIVersion,
		AdminBaseURL: cfg.Platform.AdminBaseURL,
		Timeout:      cfg.Platform.Timeout,
		Transport:    tp.Transport(nil),
	})
	vc := voice.New(voice.Config{
		BaseURL:      cfg.Provider.BaseURL,
		APIKey:       cfg.Provider.APIKey,
		Timeout:      cfg.Provider.Timeout,
		ServerSecret: cfg.Bridge.Secret,
		Transport:    tp.Transport(nil),
	})

	registry := webhook.NewRegistry()
	if err := webhook.RegisterDefaults(registry, primary, log.WithComponent("webhook")); err != nil {
		return api.Components{}, fmt.Errorf("register webhook handlers: %w", err)
	}

	retry := provision.DefaultRetryPolicy(voice.IsTransient)
	retry.MaxAttempts = cfg.Provisioning.MaxAttempts
	retry.BaseDelay = cfg.Provisioning.BaseDelay
	retry.MaxDelay = cfg.Provisioning.MaxDelay

	verifier := auth.NewVerifier(auth.Config{
		ClientID:     cfg.Platform.ClientID,
		ClientSecret: cfg.Platform.ClientSecret,
		DomainSuffix: cfg.Platform.DomainSuffix,
	})

	return api.Components{
		Install: oauth.New(oauth.Config{
			ClientSecret:    cfg.Platform.ClientSecret,
			RedirectURI:     cfg.Platform.RedirectURI,
			LandingPath:     cfg.Platform.LandingPath,
			DomainSuffix:    cfg.Platform.DomainSuffix,
			InsecureCookies: cfg.Platform.InsecureCookies,
			TrialUsageLimit: cfg.Platform.TrialUsageLimit,
		}, pc, primary, tenants, log.WithComponent("oauth")),
		Webhooks: webhook.NewDispatcher(webhook.Config{
			Secret:          cfg.Webhooks.Secret,
			SignatureHeader: cfg.Webhooks.SignatureHeader,
			TopicHeader:     cfg.Webhooks.TopicHeader,
			TenantHeader:    cfg.Webhooks.TenantHeader,
			EventIDHeader:   cfg.Webhooks.EventIDHeader,
			MaxBodySize:     maxBody,
			DomainSuffix:    cfg.Platform.DomainSuffix,
		}, registry, log.WithComponent("webhook")),
		Provision: provision.New(provision.Config{
			AreaCodes:           cfg.Provisioning.AreaCodes,
			ContextLimit:        cfg.Provisioning.ContextLimit,
			FunctionBaseURL:     cfg.FunctionBaseURL(),
			Retry:               retry,
			CompensationTimeout: cfg.Provisioning.CompensationTimeout,
			RunTimeout:          cfg.Provisioning.RunTimeout,
		}, primary, pc, vc, log.WithComponent("provision")),
		Functions: bridge.New(bridge.Config{
			Secret:      cfg.Bridge.Secret,
			SearchLimit: cfg.Bridge.SearchLimit,
		}, primary, pc, log.WithComponent("bridge")),
		Session:   verifier.Middleware,
		Store:     primary,
		Telemetry: tp,
	}, nil
}
