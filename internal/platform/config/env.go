// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. VAULTSHARE_PUBLIC_ORIGIN.
const EnvPrefix = "VAULTSHARE"

// envConfig lists the settings that can be overridden from the environment.
// Pointer fields stay nil when the variable is unset.
type envConfig struct {
	Mode             string `envconfig:"MODE"`
	PublicOrigin     string `envconfig:"PUBLIC_ORIGIN"`
	ExternalBasePath string `envconfig:"EXTERNAL_BASE_PATH"`
	ListenAddr       string `envconfig:"LISTEN_ADDR"`

	TrustedProxies     []string `envconfig:"TRUSTED_PROXIES"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
	AdminUsername      string   `envconfig:"ADMIN_USERNAME"`
	AdminEmail         string   `envconfig:"ADMIN_EMAIL"`
	AdminPassword      string   `envconfig:"ADMIN_PASSWORD"`

	TLSMode     string `envconfig:"TLS_MODE"`
	TLSCertFile string `envconfig:"TLS_CERT_FILE"`
	TLSKeyFile  string `envconfig:"TLS_KEY_FILE"`
	ACMEEmail   string `envconfig:"ACME_EMAIL"`
	ACMEDomain  string `envconfig:"ACME_DOMAIN"`

	StoreDriver string `envconfig:"STORE_DRIVER"`
	DataDir     string `envconfig:"DATA_DIR"`
	DSN         string `envconfig:"DATABASE_URL"`

	BlobDriver  string `envconfig:"BLOB_DRIVER"`
	CacheDriver string `envconfig:"CACHE_DRIVER"`

	SessionTTLSeconds    *int   `envconfig:"SESSION_TTL_SECONDS"`
	LockAfterSeconds     *int   `envconfig:"LOCK_AFTER_SECONDS"`
	FingerprintKey       string `envconfig:"FINGERPRINT_KEY"`
	ShareTicketKey       string `envconfig:"SHARE_TICKET_KEY"`
	DefaultDownloadLimit *int   `envconfig:"DEFAULT_DOWNLOAD_LIMIT"`
	MaxUploadBytes       *int64 `envconfig:"MAX_UPLOAD_BYTES"`
	SweepIntervalSeconds *int   `envconfig:"SWEEP_INTERVAL_SECONDS"`

	LogLevel string `envconfig:"LOG_LEVEL"`
}

// readEnv merges the dotenv file into the process environment, without
// replacing variables that are already set, and decodes VAULTSHARE_* variables.
func readEnv(envFile string, logger *slog.Logger) (*envConfig, error) {
	if envFile != "" {
		err := godotenv.Load(envFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Debug("env file not found, skipping", "path", envFile)
		case err != nil:
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	var env envConfig
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	return &env, nil
}

// overlayEnv applies environment values onto cfg.
func overlayEnv(cfg *Config, env *envConfig) {
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	set(&cfg.PublicOrigin, env.PublicOrigin)
	set(&cfg.ExternalBasePath, env.ExternalBasePath)
	set(&cfg.ListenAddr, env.ListenAddr)
	set(&cfg.Server.BootstrapAdmin.Username, env.AdminUsername)
	set(&cfg.Server.BootstrapAdmin.Email, env.AdminEmail)
	set(&cfg.Server.BootstrapAdmin.Password, env.AdminPassword)
	set(&cfg.TLS.Mode, env.TLSMode)
	set(&cfg.TLS.CertFile, env.TLSCertFile)
	set(&cfg.TLS.KeyFile, env.TLSKeyFile)
	set(&cfg.TLS.ACME.Email, env.ACMEEmail)
	set(&cfg.TLS.ACME.Domain, env.ACMEDomain)
	set(&cfg.Store.Driver, env.StoreDriver)
	set(&cfg.Store.DataDir, env.DataDir)
	set(&cfg.Store.DSN, env.DSN)
	set(&cfg.Blobs.Driver, env.BlobDriver)
	set(&cfg.Cache.Driver, env.CacheDriver)
	set(&cfg.Vault.FingerprintKey, env.FingerprintKey)
	set(&cfg.Vault.ShareTicketKey, env.ShareTicketKey)
	set(&cfg.Logging.Level, env.LogLevel)

	if len(env.TrustedProxies) > 0 {
		cfg.Server.TrustedProxies = env.TrustedProxies
	}
	if len(env.CORSAllowedOrigins) > 0 {
		cfg.Server.CORSAllowedOrigins = env.CORSAllowedOrigins
	}
	if env.SessionTTLSeconds != nil {
		cfg.Vault.SessionTTLSeconds = *env.SessionTTLSeconds
	}
	if env.LockAfterSeconds != nil {
		cfg.Vault.LockAfterSeconds = *env.LockAfterSeconds
	}
	if env.DefaultDownloadLimit != nil {
		cfg.Vault.DefaultDownloadLimit = *env.DefaultDownloadLimit
	}
	if env.MaxUploadBytes != nil {
		cfg.Vault.MaxUploadBytes = *env.MaxUploadBytes
	}
	if env.SweepIntervalSeconds != nil {
		cfg.Vault.SweepIntervalSeconds = *env.SweepIntervalSeconds
	}
}
