// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package cors provides the CORS interceptor for browser clients served from
// another origin.
package cors

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/cors"

	svccfg "github.com/MahdiBaghbani/vaultshare-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/vaultshare-go/internal/interceptors"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/deps"
)

func init() {
	interceptors.Register("cors", New)
}

// Config is decoded from [http.interceptors.cors].
type Config struct {
	// AllowedOrigins defaults to server.cors_allowed_origins.
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials *bool    `mapstructure:"allow_credentials"`
	MaxAgeSeconds    int      `mapstructure:"max_age_seconds"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	}
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"}
	}
	if len(c.ExposedHeaders) == 0 {
		c.ExposedHeaders = []string{"Content-Disposition", "Retry-After", "X-Request-Id"}
	}
	if c.AllowCredentials == nil {
		allow := true
		c.AllowCredentials = &allow
	}
	if c.MaxAgeSeconds == 0 {
		c.MaxAgeSeconds = 300
	}
}

// New creates the CORS middleware. With no allowed origins it passes every
// request through untouched.
func New(conf map[string]any, log *slog.Logger) (interceptors.Middleware, error) {
	var c Config
	if err := svccfg.Decode(conf, &c); err != nil {
		return nil, err
	}
	if len(c.AllowedOrigins) == 0 {
		if d := deps.GetDeps(); d != nil && d.Config != nil {
			c.AllowedOrigins = d.Config.Server.CORSAllowedOrigins
		}
	}
	if len(c.AllowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }, nil
	}

	if log != nil {
		log.Debug("cors enabled", "origins", c.AllowedOrigins)
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   c.AllowedOrigins,
		AllowedMethods:   c.AllowedMethods,
		AllowedHeaders:   c.AllowedHeaders,
		ExposedHeaders:   c.ExposedHeaders,
		AllowCredentials: *c.AllowCredentials,
		MaxAge:           c.MaxAgeSeconds,
	}), nil
}
