// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package main is the entrypoint for the vaultshare server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/sharelink"
	"github.com/MahdiBaghbani/vaultshare-go/internal/frameworks/service"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/blob"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/cache"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/config"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/crypto"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/deps"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/http/server"
	tlspkg "github.com/MahdiBaghbani/vaultshare-go/internal/platform/http/tls"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"

	// Register drivers and services
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/blob/loader"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/cache/loader"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/loader"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/services/loader"
)

// levelTrace sits below debug; slog has no trace level.
const levelTrace = slog.LevelDebug - 4

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	envFile := flag.String("env-file", ".env", "Dotenv file read before VAULTSHARE_* variables (skipped if missing)")
	modeFlag := flag.String("mode", "", "Operating mode: strict or dev (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	publicOrigin := flag.String("public-origin", "", "Public origin used in share URLs (overrides config)")
	externalBasePath := flag.String("external-base-path", "", "External base path (overrides config)")
	tlsMode := flag.String("tls-mode", "", "TLS mode: off, static, selfsigned, or acme (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: json, sqlite, mirror, or postgres (overrides config)")
	dataDir := flag.String("data-dir", "", "Data directory for json, sqlite and mirror stores (overrides config)")
	blobDriver := flag.String("blob-driver", "", "Blob driver: local, memory, or s3 (overrides config)")
	cacheDriver := flag.String("cache-driver", "", "Cache driver: memory or redis (overrides config)")
	adminUsername := flag.String("admin-username", "", "Bootstrap admin username (overrides config)")
	adminPassword := flag.String("admin-password", "", "Bootstrap admin password (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors.
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Precedence: mode preset -> TOML file -> .env + environment -> CLI flags
	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		EnvFile:    *envFile,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:       listenAddr,
			PublicOrigin:     publicOrigin,
			ExternalBasePath: externalBasePath,
			TLSMode:          tlsMode,
			StoreDriver:      storeDriver,
			DataDir:          dataDir,
			BlobDriver:       blobDriver,
			CacheDriver:      cacheDriver,
			AdminUsername:    adminUsername,
			AdminPassword:    adminPassword,
			LoggingLevel:     loggingLevel,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}))
	slog.SetDefault(logger)
	logger.Info("effective configuration", "config", cfg.Redacted())

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "trace":
		return levelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(&store.DriverConfig{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.Store.DataDir,
		DSN:     cfg.Store.DSN,
	})
	if err != nil {
		return err
	}
	if err := st.Init(ctx); err != nil {
		return err
	}
	defer st.Close()
	logger.Info("store initialized", "driver", st.Name())

	blobs, err := blob.NewFromConfig(cfg.Blobs.Driver, cfg.Blobs.Drivers)
	if err != nil {
		return err
	}
	logger.Info("blob store initialized", "driver", blobs.Name())

	cacheDriver := cfg.Cache.Driver
	if cacheDriver == "" {
		cacheDriver = "memory"
	}
	cacheInstance, err := cache.NewFromConfig(cacheDriver, cfg.Cache.Drivers)
	if err != nil {
		return err
	}

	d, err := deps.Build(cfg, deps.Backends{
		Store: st,
		Blobs: blobs,
		Cache: cacheInstance,
		Keys:  crypto.NewKeyManager(cfg.Vault.KeyDir),
	}, logger)
	if err != nil {
		return err
	}
	deps.SetDeps(d)

	// Super admin; an explicitly configured password is re-applied on every boot.
	admin := cfg.Server.BootstrapAdmin
	if admin.Username == "" {
		admin.Username = "admin"
	}
	bootstrap := identity.NewBootstrap(identity.NewStorePartyRepo(st), identity.NewUserAuth(), logger)
	if err := bootstrap.EnsureSuperAdmin(ctx, identity.SeededUser{
		Username: admin.Username,
		Email:    admin.Email,
		Password: admin.Password,
	}, admin.Password != ""); err != nil {
		return err
	}

	services, err := service.BuildAll(cfg.BuildServiceConfig, logger)
	if err != nil {
		return err
	}
	srv, err := server.New(cfg, logger, services)
	if err != nil {
		return err
	}
	if cfg.TLS.Mode == "acme" {
		pool, err := tlspkg.RootCAPool(&cfg.TLS)
		if err != nil {
			return err
		}
		srv.SetRootCAPool(pool)
	}

	// Background workers stop with ctx.
	go sharelink.NewSweeper(st, cfg.Vault.SweepInterval(), logger).Run(ctx)
	go d.Chat.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	logger.Info("server started, press Ctrl+C to stop")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
