// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Mode is the operating mode: strict or dev.
	Mode string `toml:"mode"`

	// PublicOrigin is the public origin (scheme + host + port) of this instance.
	// Share link URLs are built from it.
	// Example: "https://vault.example.com"
	PublicOrigin string `toml:"public_origin"`

	// ExternalBasePath is the optional path prefix for every endpoint.
	// Example: "/vault" or empty string
	ExternalBasePath string `toml:"external_base_path"`

	// ListenAddr is the address to listen on when TLS is off.
	// Example: ":9200"
	ListenAddr string `toml:"listen_addr"`

	Server  ServerConfig  `toml:"server"`
	TLS     TLSConfig     `toml:"tls"`
	Store   StoreConfig   `toml:"store"`
	Blobs   BlobsConfig   `toml:"blobs"`
	Cache   CacheConfig   `toml:"cache"`
	Vault   VaultConfig   `toml:"vault"`
	Logging LoggingConfig `toml:"logging"`

	// HTTP holds per-service HTTP configuration.
	HTTP HTTPConfig `toml:"http"`
}

// HTTPConfig holds per-service HTTP configuration.
// Services are configured under [http.services.<svcname>].
// Interceptors are configured under [http.interceptors.<name>].
type HTTPConfig struct {
	// Services maps service names to their raw config maps.
	// Each service decodes its own config via cfg.Decode() with Setter interface.
	Services map[string]map[string]any `toml:"services"`

	// Interceptors maps interceptor names to their raw config maps.
	// Ratelimit profiles live at [http.interceptors.ratelimit.profiles.<name>].
	// Per-service opt-in is [http.services.<svc>.ratelimit] with profile = "<name>".
	Interceptors map[string]map[string]any `toml:"interceptors"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info in strict mode, debug in dev mode.
	Level string `toml:"level"`

	// AllowSensitive permits logging of sensitive values (tokens, secrets).
	// Default: false. Use only for debugging.
	AllowSensitive bool `toml:"allow_sensitive"`
}

// StoreConfig selects the metadata store driver.
type StoreConfig struct {
	// Driver is one of json, sqlite, mirror (sqlite plus a redacted JSON export), postgres.
	Driver string `toml:"driver"`

	// DataDir holds json files and the sqlite database.
	DataDir string `toml:"data_dir"`

	// DSN is the postgres connection string.
	DSN string `toml:"dsn"`
}

// BlobsConfig selects the file content driver.
type BlobsConfig struct {
	// Driver is one of local, memory, s3.
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration.
	// Example: [blobs.drivers.s3] bucket = "vault"
	Drivers map[string]map[string]any `toml:"drivers"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	// Driver is the cache driver name: "memory" (default) or "redis".
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration.
	// Example: [cache.drivers.redis] addr = "localhost:6379"
	Drivers map[string]map[string]any `toml:"drivers"`
}

// VaultConfig holds the vault, session and share-link settings.
type VaultConfig struct {
	// SessionTTLSeconds bounds a login session. Default: 86400.
	SessionTTLSeconds int `toml:"session_ttl_seconds"`

	// LockAfterSeconds locks an idle session. Default: 900.
	LockAfterSeconds int `toml:"lock_after_seconds"`

	// KeyDir is where generated secrets are persisted when the keys below are unset.
	KeyDir string `toml:"key_dir"`

	// FingerprintKey keys the HMAC that detects reused secrets.
	// Changing it invalidates reuse detection for existing entries.
	FingerprintKey string `toml:"fingerprint_key"`

	// ShareTicketKey signs download tickets. At least 32 bytes.
	ShareTicketKey string `toml:"share_ticket_key"`

	// DefaultDownloadLimit applies when a link is issued without one. Default: 5.
	DefaultDownloadLimit int `toml:"default_download_limit"`

	// DefaultLinkTTLHours applies when a link is issued without an expiry. Default: 168.
	DefaultLinkTTLHours int `toml:"default_link_ttl_hours"`

	// MaxUploadBytes caps a single upload. Default: 50 MiB.
	MaxUploadBytes int64 `toml:"max_upload_bytes"`

	// SweepIntervalSeconds runs the expired link sweeper. 0 disables it.
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
}

// SessionTTL returns SessionTTLSeconds as a duration.
func (v VaultConfig) SessionTTL() time.Duration {
	return time.Duration(v.SessionTTLSeconds) * time.Second
}

// LockAfter returns LockAfterSeconds as a duration.
func (v VaultConfig) LockAfter() time.Duration {
	return time.Duration(v.LockAfterSeconds) * time.Second
}

// DefaultLinkTTL returns DefaultLinkTTLHours as a duration.
func (v VaultConfig) DefaultLinkTTL() time.Duration {
	return time.Duration(v.DefaultLinkTTLHours) * time.Hour
}

// SweepInterval returns SweepIntervalSeconds as a duration.
func (v VaultConfig) SweepInterval() time.Duration {
	return time.Duration(v.SweepIntervalSeconds) * time.Second
}

// ServerConfig holds server-level settings.
type ServerConfig struct {
	// TrustedProxies is a list of CIDR ranges for trusted reverse proxies.
	// X-Forwarded-* headers are only honored from these addresses.
	// Default: ["127.0.0.0/8", "::1/128"]
	TrustedProxies []string `toml:"trusted_proxies"`

	// CORSAllowedOrigins lists browser origins allowed to call the API.
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`

	// BootstrapAdmin holds super admin bootstrap configuration.
	BootstrapAdmin BootstrapAdminConfig `toml:"bootstrap_admin"`
}

// BootstrapAdminConfig holds bootstrap admin credentials.
type BootstrapAdminConfig struct {
	// Username for the super admin. Default: "admin"
	Username string `toml:"username"`

	// Email for the super admin.
	Email string `toml:"email"`

	// Password for the super admin. If empty on first boot, a random password is generated.
	Password string `toml:"password"`
}

// TLSConfig holds TLS-related settings.
type TLSConfig struct {
	// Mode is one of: off, static, selfsigned, acme
	Mode string `toml:"mode"`

	// CertFile and KeyFile for static mode
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// HTTPPort for HTTP listener (used for ACME challenges and redirects)
	HTTPPort int `toml:"http_port"`

	// HTTPSPort for HTTPS listener
	HTTPSPort int `toml:"https_port"`

	// SelfSignedDir is where self-signed certs are stored
	SelfSignedDir string `toml:"self_signed_dir"`

	// RootCAFile and RootCADir extend the system pool used to reach the ACME directory.
	RootCAFile string `toml:"root_ca_file"`
	RootCADir  string `toml:"root_ca_dir"`

	// ACME configuration
	ACME ACMEConfig `toml:"acme"`
}

// ACMEConfig holds ACME/Let's Encrypt settings.
type ACMEConfig struct {
	// Email for ACME registration
	Email string `toml:"email"`

	// Domain is the domain to obtain a certificate for
	Domain string `toml:"domain"`

	// Directory is the ACME server URL (default: Let's Encrypt production)
	Directory string `toml:"directory"`

	// StorageDir is where ACME certificates and account info are stored
	StorageDir string `toml:"storage_dir"`

	// UseStaging uses Let's Encrypt staging (for testing)
	UseStaging bool `toml:"use_staging"`
}

// BuildServiceConfig returns the raw service config map for a given service name.
// Returns nil if the service is not configured in [http.services.<name>].
func (c *Config) BuildServiceConfig(serviceName string) map[string]any {
	if c.HTTP.Services == nil {
		return nil
	}
	svcCfg, ok := c.HTTP.Services[serviceName]
	if !ok {
		return nil
	}
	result := make(map[string]any, len(svcCfg))
	for k, v := range svcCfg {
		result[k] = v
	}
	return result
}

// ShareURL returns the public URL of a share token.
func (c *Config) ShareURL(token string) string {
	return strings.TrimSuffix(c.PublicOrigin, "/") + c.ExternalBasePath + "/s/" + token
}

func secretState(s string) string {
	if s == "" {
		return "<generated>"
	}
	return "[REDACTED]"
}

// Redacted returns a string representation of the config with secrets redacted.
func (c *Config) Redacted() string {
	var sb strings.Builder
	sb.WriteString("Config{\n")
	fmt.Fprintf(&sb, "  Mode: %q,\n", c.Mode)
	fmt.Fprintf(&sb, "  PublicOrigin: %q,\n", c.PublicOrigin)
	fmt.Fprintf(&sb, "  ExternalBasePath: %q,\n", c.ExternalBasePath)
	fmt.Fprintf(&sb, "  ListenAddr: %q,\n", c.ListenAddr)
	sb.WriteString("  Server: {\n")
	fmt.Fprintf(&sb, "    TrustedProxies: %v,\n", c.Server.TrustedProxies)
	fmt.Fprintf(&sb, "    CORSAllowedOrigins: %v,\n", c.Server.CORSAllowedOrigins)
	sb.WriteString("    BootstrapAdmin: {\n")
	fmt.Fprintf(&sb, "      Username: %q,\n", c.Server.BootstrapAdmin.Username)
	fmt.Fprintf(&sb, "      Email: %q,\n", c.Server.BootstrapAdmin.Email)
	sb.WriteString("      Password: [REDACTED],\n")
	sb.WriteString("    },\n")
	sb.WriteString("  },\n")
	sb.WriteString("  TLS: {\n")
	fmt.Fprintf(&sb, "    Mode: %q,\n", c.TLS.Mode)
	fmt.Fprintf(&sb, "    CertFile: %q,\n", c.TLS.CertFile)
	fmt.Fprintf(&sb, "    KeyFile: %q,\n", c.TLS.KeyFile)
	fmt.Fprintf(&sb, "    HTTPPort: %d,\n", c.TLS.HTTPPort)
	fmt.Fprintf(&sb, "    HTTPSPort: %d,\n", c.TLS.HTTPSPort)
	fmt.Fprintf(&sb, "    SelfSignedDir: %q,\n", c.TLS.SelfSignedDir)
	fmt.Fprintf(&sb, "    ACME.Domain: %q,\n", c.TLS.ACME.Domain)
	fmt.Fprintf(&sb, "    ACME.UseStaging: %v,\n", c.TLS.ACME.UseStaging)
	sb.WriteString("  },\n")
	sb.WriteString("  Store: {\n")
	fmt.Fprintf(&sb, "    Driver: %q,\n", c.Store.Driver)
	fmt.Fprintf(&sb, "    DataDir: %q,\n", c.Store.DataDir)
	fmt.Fprintf(&sb, "    DSN: %s,\n", redactDSN(c.Store.DSN))
	sb.WriteString("  },\n")
	sb.WriteString("  Blobs: {\n")
	fmt.Fprintf(&sb, "    Driver: %q,\n", c.Blobs.Driver)
	fmt.Fprintf(&sb, "    Drivers: %v,\n", sortedKeys(c.Blobs.Drivers))
	sb.WriteString("  },\n")
	sb.WriteString("  Cache: {\n")
	fmt.Fprintf(&sb, "    Driver: %q,\n", c.Cache.Driver)
	fmt.Fprintf(&sb, "    Drivers: %v,\n", sortedKeys(c.Cache.Drivers))
	sb.WriteString("  },\n")
	sb.WriteString("  Vault: {\n")
	fmt.Fprintf(&sb, "    SessionTTLSeconds: %d,\n", c.Vault.SessionTTLSeconds)
	fmt.Fprintf(&sb, "    LockAfterSeconds: %d,\n", c.Vault.LockAfterSeconds)
	fmt.Fprintf(&sb, "    KeyDir: %q,\n", c.Vault.KeyDir)
	fmt.Fprintf(&sb, "    FingerprintKey: %s,\n", secretState(c.Vault.FingerprintKey))
	fmt.Fprintf(&sb, "    ShareTicketKey: %s,\n", secretState(c.Vault.ShareTicketKey))
	fmt.Fprintf(&sb, "    DefaultDownloadLimit: %d,\n", c.Vault.DefaultDownloadLimit)
	fmt.Fprintf(&sb, "    DefaultLinkTTLHours: %d,\n", c.Vault.DefaultLinkTTLHours)
	fmt.Fprintf(&sb, "    MaxUploadBytes: %d,\n", c.Vault.MaxUploadBytes)
	fmt.Fprintf(&sb, "    SweepIntervalSeconds: %d,\n", c.Vault.SweepIntervalSeconds)
	sb.WriteString("  },\n")
	sb.WriteString("  Logging: {\n")
	fmt.Fprintf(&sb, "    Level: %q,\n", c.Logging.Level)
	fmt.Fprintf(&sb, "    AllowSensitive: %v,\n", c.Logging.AllowSensitive)
	sb.WriteString("  },\n")
	sb.WriteString("  HTTP: {\n")
	fmt.Fprintf(&sb, "    Services: %v,\n", sortedKeys(c.HTTP.Services))
	fmt.Fprintf(&sb, "    Interceptors: %v,\n", sortedKeys(c.HTTP.Interceptors))
	sb.WriteString("  },\n")
	sb.WriteString("}")
	return sb.String()
}

func sortedKeys(m map[string]map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// redactDSN hides the password of a URL-style DSN. Key/value DSNs are hidden entirely.
func redactDSN(dsn string) string {
	if dsn == "" {
		return `""`
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "[REDACTED]"
	}
	return fmt.Sprintf("%q", u.Redacted())
}

// PublicScheme returns "http" or "https" from PublicOrigin.
// Returns "https" if PublicOrigin is empty or unparseable.
func (c *Config) PublicScheme() string {
	if c.PublicOrigin == "" {
		return "https"
	}
	u, err := url.Parse(c.PublicOrigin)
	if err != nil || u.Scheme == "" {
		return "https"
	}
	return strings.ToLower(u.Scheme)
}

// PublicHost returns the lowercased hostname of PublicOrigin without the port.
func (c *Config) PublicHost() string {
	u, err := url.Parse(c.PublicOrigin)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
