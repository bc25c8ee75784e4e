// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Mode represents the server operating mode.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeDev    Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return ModeStrict, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of strict, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// EnvFile is a dotenv file merged into the environment before
	// VAULTSHARE_* variables are read. A missing file is skipped.
	EnvFile string

	// ModeFlag is the --mode flag value (overrides config file and env mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override every other source.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr       *string
	PublicOrigin     *string
	ExternalBasePath *string
	TLSMode          *string
	StoreDriver      *string
	DataDir          *string
	BlobDriver       *string
	CacheDriver      *string
	AdminUsername    *string
	AdminPassword    *string
	LoggingLevel     *string
}

// fileConfig mirrors Config but with pointer sections to detect presence.
type fileConfig struct {
	Mode   string        `toml:"mode"`
	Server *serverConfig `toml:"server"`

	PublicOrigin     string `toml:"public_origin"`
	ExternalBasePath string `toml:"external_base_path"`
	ListenAddr       string `toml:"listen_addr"`

	TLS     *TLSConfig      `toml:"tls"`
	Store   *StoreConfig    `toml:"store"`
	Blobs   *BlobsConfig    `toml:"blobs"`
	Cache   *CacheConfig    `toml:"cache"`
	Vault   *VaultConfig    `toml:"vault"`
	Logging *loggingConfig  `toml:"logging"`
	HTTP    *httpFileConfig `toml:"http"`
}

// httpFileConfig holds per-service HTTP configuration from TOML.
type httpFileConfig struct {
	Services     map[string]map[string]any `toml:"services"`
	Interceptors map[string]map[string]any `toml:"interceptors"`
}

// loggingConfig holds logging settings from TOML.
type loggingConfig struct {
	Level          string `toml:"level"`
	AllowSensitive bool   `toml:"allow_sensitive"`
}

// serverConfig holds server-specific settings in TOML.
type serverConfig struct {
	TrustedProxies     []string        `toml:"trusted_proxies"`
	CORSAllowedOrigins []string        `toml:"cors_allowed_origins"`
	BootstrapAdmin     *bootstrapAdmin `toml:"bootstrap_admin"`
}

// bootstrapAdmin holds bootstrap admin credentials in TOML.
type bootstrapAdmin struct {
	Username string `toml:"username"`
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > VAULTSHARE_MODE > mode in config file > strict
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay the dotenv file and VAULTSHARE_* environment variables
//  5. Overlay CLI flags
//  6. Validate enum fields and public_origin
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid TOML,
// Load returns an error (fail fast). Unknown/undecoded TOML keys produce a warning
// but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig
	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
	}

	env, err := readEnv(opts.EnvFile, logger)
	if err != nil {
		return nil, err
	}

	modeStr := "strict"
	if fc.Mode != "" {
		modeStr = fc.Mode
	}
	if env.Mode != "" {
		modeStr = env.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}
	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)
	if opts.ConfigPath != "" {
		overlayFileConfig(cfg, &fc)
	}
	overlayEnv(cfg, env)
	overlayFlags(cfg, opts.FlagOverrides)

	if err := validateEnums(cfg); err != nil {
		return nil, err
	}
	if err := validatePublicOrigin(cfg); err != nil {
		return nil, err
	}
	if err := validateBasePath(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// presetForMode returns the base config for a given mode.
func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return StrictConfig()
}

// StrictConfig returns production-safe strict defaults.
func StrictConfig() *Config {
	return &Config{
		Mode:             string(ModeStrict),
		PublicOrigin:     "https://localhost:9200",
		ExternalBasePath: "",
		ListenAddr:       ":9200",
		Server: ServerConfig{
			TrustedProxies: []string{"127.0.0.0/8", "::1/128"},
			BootstrapAdmin: BootstrapAdminConfig{Username: "admin"},
		},
		TLS: TLSConfig{
			Mode:          "selfsigned",
			HTTPPort:      9280,
			HTTPSPort:     9200,
			SelfSignedDir: ".vaultshare/certs",
			ACME: ACMEConfig{
				Directory:  "https://acme-v02.api.letsencrypt.org/directory",
				StorageDir: ".vaultshare/acme",
			},
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: ".vaultshare/data",
		},
		Blobs: BlobsConfig{
			Driver: "local",
			Drivers: map[string]map[string]any{
				"local": {"root_dir": ".vaultshare/blobs"},
			},
		},
		Cache: CacheConfig{Driver: "memory"},
		Vault: VaultConfig{
			SessionTTLSeconds:    86400,
			LockAfterSeconds:     900,
			KeyDir:               ".vaultshare/keys",
			DefaultDownloadLimit: 5,
			DefaultLinkTTLHours:  168,
			MaxUploadBytes:       50 << 20,
			SweepIntervalSeconds: 3600,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DevConfig returns development mode defaults.
func DevConfig() *Config {
	cfg := StrictConfig()
	cfg.Mode = string(ModeDev)
	cfg.PublicOrigin = "http://localhost:9200"
	cfg.TLS.Mode = "off"
	cfg.TLS.ACME.Directory = "https://acme-staging-v02.api.letsencrypt.org/directory"
	cfg.TLS.ACME.UseStaging = true
	cfg.Store.Driver = "json"
	cfg.Server.CORSAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Logging.Level = "debug"
	return cfg
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.PublicOrigin != "" {
		cfg.PublicOrigin = fc.PublicOrigin
	}
	if fc.ExternalBasePath != "" {
		cfg.ExternalBasePath = fc.ExternalBasePath
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}

	if fc.Server != nil {
		if len(fc.Server.TrustedProxies) > 0 {
			cfg.Server.TrustedProxies = fc.Server.TrustedProxies
		}
		if len(fc.Server.CORSAllowedOrigins) > 0 {
			cfg.Server.CORSAllowedOrigins = fc.Server.CORSAllowedOrigins
		}
		if fc.Server.BootstrapAdmin != nil {
			if fc.Server.BootstrapAdmin.Username != "" {
				cfg.Server.BootstrapAdmin.Username = fc.Server.BootstrapAdmin.Username
			}
			cfg.Server.BootstrapAdmin.Email = fc.Server.BootstrapAdmin.Email
			cfg.Server.BootstrapAdmin.Password = fc.Server.BootstrapAdmin.Password
		}
	}

	if fc.TLS != nil {
		if fc.TLS.Mode != "" {
			cfg.TLS.Mode = fc.TLS.Mode
		}
		if fc.TLS.CertFile != "" {
			cfg.TLS.CertFile = fc.TLS.CertFile
		}
		if fc.TLS.KeyFile != "" {
			cfg.TLS.KeyFile = fc.TLS.KeyFile
		}
		if fc.TLS.HTTPPort != 0 {
			cfg.TLS.HTTPPort = fc.TLS.HTTPPort
		}
		if fc.TLS.HTTPSPort != 0 {
			cfg.TLS.HTTPSPort = fc.TLS.HTTPSPort
		}
		if fc.TLS.SelfSignedDir != "" {
			cfg.TLS.SelfSignedDir = fc.TLS.SelfSignedDir
		}
		if fc.TLS.RootCAFile != "" {
			cfg.TLS.RootCAFile = fc.TLS.RootCAFile
		}
		if fc.TLS.RootCADir != "" {
			cfg.TLS.RootCADir = fc.TLS.RootCADir
		}
		if fc.TLS.ACME.Email != "" {
			cfg.TLS.ACME.Email = fc.TLS.ACME.Email
		}
		if fc.TLS.ACME.Domain != "" {
			cfg.TLS.ACME.Domain = fc.TLS.ACME.Domain
		}
		if fc.TLS.ACME.Directory != "" {
			cfg.TLS.ACME.Directory = fc.TLS.ACME.Directory
		}
		if fc.TLS.ACME.StorageDir != "" {
			cfg.TLS.ACME.StorageDir = fc.TLS.ACME.StorageDir
		}
		// UseStaging is a bool, we overlay it if the TLS section is present
		cfg.TLS.ACME.UseStaging = fc.TLS.ACME.UseStaging
	}

	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if fc.Store.DataDir != "" {
			cfg.Store.DataDir = fc.Store.DataDir
		}
		if fc.Store.DSN != "" {
			cfg.Store.DSN = fc.Store.DSN
		}
	}

	if fc.Blobs != nil {
		if fc.Blobs.Driver != "" {
			cfg.Blobs.Driver = fc.Blobs.Driver
		}
		mergeDrivers(&cfg.Blobs.Drivers, fc.Blobs.Drivers)
	}

	if fc.Cache != nil {
		if fc.Cache.Driver != "" {
			cfg.Cache.Driver = fc.Cache.Driver
		}
		mergeDrivers(&cfg.Cache.Drivers, fc.Cache.Drivers)
	}

	if v := fc.Vault; v != nil {
		if v.SessionTTLSeconds > 0 {
			cfg.Vault.SessionTTLSeconds = v.SessionTTLSeconds
		}
		if v.LockAfterSeconds > 0 {
			cfg.Vault.LockAfterSeconds = v.LockAfterSeconds
		}
		if v.KeyDir != "" {
			cfg.Vault.KeyDir = v.KeyDir
		}
		if v.FingerprintKey != "" {
			cfg.Vault.FingerprintKey = v.FingerprintKey
		}
		if v.ShareTicketKey != "" {
			cfg.Vault.ShareTicketKey = v.ShareTicketKey
		}
		if v.DefaultDownloadLimit > 0 {
			cfg.Vault.DefaultDownloadLimit = v.DefaultDownloadLimit
		}
		if v.DefaultLinkTTLHours > 0 {
			cfg.Vault.DefaultLinkTTLHours = v.DefaultLinkTTLHours
		}
		if v.MaxUploadBytes > 0 {
			cfg.Vault.MaxUploadBytes = v.MaxUploadBytes
		}
		// Zero disables the sweeper, so it is copied whenever the section is present.
		cfg.Vault.SweepIntervalSeconds = v.SweepIntervalSeconds
	}

	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
		cfg.Logging.AllowSensitive = fc.Logging.AllowSensitive
	}

	if fc.HTTP != nil {
		mergeDrivers(&cfg.HTTP.Services, fc.HTTP.Services)
		mergeDrivers(&cfg.HTTP.Interceptors, fc.HTTP.Interceptors)
	}
}

// mergeDrivers copies named sections from src into *dst, replacing whole sections.
func mergeDrivers(dst *map[string]map[string]any, src map[string]map[string]any) {
	if len(src) == 0 {
		return
	}
	if *dst == nil {
		*dst = make(map[string]map[string]any, len(src))
	}
	for name, section := range src {
		(*dst)[name] = section
	}
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	set := func(dst *string, src *string) {
		if src != nil && *src != "" {
			*dst = *src
		}
	}
	set(&cfg.ListenAddr, f.ListenAddr)
	set(&cfg.PublicOrigin, f.PublicOrigin)
	set(&cfg.ExternalBasePath, f.ExternalBasePath)
	set(&cfg.TLS.Mode, f.TLSMode)
	set(&cfg.Store.Driver, f.StoreDriver)
	set(&cfg.Store.DataDir, f.DataDir)
	set(&cfg.Blobs.Driver, f.BlobDriver)
	set(&cfg.Cache.Driver, f.CacheDriver)
	set(&cfg.Server.BootstrapAdmin.Username, f.AdminUsername)
	set(&cfg.Server.BootstrapAdmin.Password, f.AdminPassword)
	set(&cfg.Logging.Level, f.LoggingLevel)
}

// validateEnums validates enum-like config fields and returns an error for invalid values.
func validateEnums(cfg *Config) error {
	switch cfg.TLS.Mode {
	case "off", "static", "selfsigned", "acme":
	default:
		return fmt.Errorf("invalid tls.mode %q: must be one of off, static, selfsigned, acme", cfg.TLS.Mode)
	}
	if cfg.TLS.Mode == "static" && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file are required when tls.mode is static")
	}

	switch cfg.Store.Driver {
	case "json", "sqlite", "mirror":
		if cfg.Store.DataDir == "" {
			return fmt.Errorf("store.data_dir is required for the %s driver", cfg.Store.Driver)
		}
	case "postgres":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of json, sqlite, mirror, postgres", cfg.Store.Driver)
	}

	switch cfg.Blobs.Driver {
	case "", "local", "memory", "s3":
	default:
		return fmt.Errorf("invalid blobs.driver %q: must be one of local, memory, s3", cfg.Blobs.Driver)
	}

	switch cfg.Cache.Driver {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache.driver %q: must be one of memory or redis", cfg.Cache.Driver)
	}

	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of trace, debug, info, warn, error", cfg.Logging.Level)
	}

	v := cfg.Vault
	switch {
	case v.SessionTTLSeconds <= 0:
		return fmt.Errorf("vault.session_ttl_seconds must be positive")
	case v.LockAfterSeconds <= 0:
		return fmt.Errorf("vault.lock_after_seconds must be positive")
	case v.DefaultDownloadLimit < 1 || v.DefaultDownloadLimit > 10000:
		return fmt.Errorf("vault.default_download_limit must be within [1,10000]")
	case v.DefaultLinkTTLHours <= 0:
		return fmt.Errorf("vault.default_link_ttl_hours must be positive")
	case v.MaxUploadBytes <= 0:
		return fmt.Errorf("vault.max_upload_bytes must be positive")
	case v.SweepIntervalSeconds < 0:
		return fmt.Errorf("vault.sweep_interval_seconds must not be negative")
	case v.ShareTicketKey != "" && len(v.ShareTicketKey) < 32:
		return fmt.Errorf("vault.share_ticket_key must be at least 32 bytes")
	case v.FingerprintKey != "" && len(v.FingerprintKey) < 16:
		return fmt.Errorf("vault.fingerprint_key must be at least 16 bytes")
	case (v.ShareTicketKey == "" || v.FingerprintKey == "") && v.KeyDir == "":
		return fmt.Errorf("vault.key_dir is required when a vault key is not configured")
	}

	return validateRatelimitConfig(cfg)
}

// validateRatelimitConfig validates ratelimit interceptor configuration.
// Profiles are defined at [http.interceptors.ratelimit.profiles.<name>].
// Services opt-in via [http.services.<svc>.ratelimit] with profile = "<name>".
// If a service references a profile, that profile must exist.
func validateRatelimitConfig(cfg *Config) error {
	profiles := make(map[string]bool)
	if rlCfg, ok := cfg.HTTP.Interceptors["ratelimit"]; ok {
		if profilesRaw, ok := rlCfg["profiles"]; ok {
			profilesMap, ok := profilesRaw.(map[string]any)
			if !ok {
				return fmt.Errorf("http.interceptors.ratelimit.profiles must be a map")
			}
			for name, profile := range profilesMap {
				if _, ok := profile.(map[string]any); !ok {
					return fmt.Errorf("http.interceptors.ratelimit.profiles.%s must be a map", name)
				}
				profiles[name] = true
			}
		}
	}

	for svcName, svcCfg := range cfg.HTTP.Services {
		rlMap, ok := svcCfg["ratelimit"].(map[string]any)
		if !ok {
			continue
		}
		if profileStr, ok := rlMap["profile"].(string); ok && !profiles[profileStr] {
			return fmt.Errorf("http.services.%s.ratelimit references undefined profile %q", svcName, profileStr)
		}
	}
	return nil
}

// validatePublicOrigin checks the public_origin config value when set.
// Must be an absolute URL with http/https scheme, a host, no userinfo,
// query, fragment, or base path. Whitespace is rejected, not trimmed.
func validatePublicOrigin(cfg *Config) error {
	if cfg.PublicOrigin == "" {
		return nil
	}

	origin := cfg.PublicOrigin
	if origin != strings.TrimSpace(origin) {
		return fmt.Errorf("invalid public_origin %q: must not contain leading or trailing whitespace", origin)
	}

	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid public_origin %q: %w", origin, err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("invalid public_origin %q: must be an absolute URL with http or https scheme", origin)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("invalid public_origin %q: scheme must be http or https, got %q", origin, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid public_origin %q: must include a host", origin)
	}
	if u.User != nil {
		return fmt.Errorf("invalid public_origin %q: must not include userinfo", origin)
	}
	if u.RawQuery != "" {
		return fmt.Errorf("invalid public_origin %q: must not include a query string", origin)
	}
	if u.Fragment != "" {
		return fmt.Errorf("invalid public_origin %q: must not include a fragment", origin)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("invalid public_origin %q: must not include a path (use external_base_path for base path)", origin)
	}
	return nil
}

// validateBasePath requires external_base_path to be empty or "/segment[/segment...]".
func validateBasePath(cfg *Config) error {
	p := cfg.ExternalBasePath
	if p == "" {
		return nil
	}
	if !strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") || strings.Contains(p, "..") || strings.Contains(p, "//") {
		return fmt.Errorf("invalid external_base_path %q: must start with '/' and not end with '/'", p)
	}
	return nil
}
