// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package share provides the public /s/{token} endpoints that resolve share
// links without a session.
package share

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api/public"
	"github.com/MahdiBaghbani/vaultshare-go/internal/frameworks/service"
	svccfg "github.com/MahdiBaghbani/vaultshare-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/vaultshare-go/internal/frameworks/service/httpwrap"
	"github.com/MahdiBaghbani/vaultshare-go/internal/interceptors"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/deps"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
)

func init() {
	service.MustRegister("share", New)
}

// Config holds share service configuration.
type Config struct {
	Ratelimit struct {
		Profile string `mapstructure:"profile"`
	} `mapstructure:"ratelimit"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {}

// Service serves public share links.
type Service struct {
	router chi.Router
}

// New creates the share service.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	log = logutil.NoopIfNil(log)
	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "share", "unused_keys", unused)
	}

	d := deps.GetDeps()
	if d == nil {
		return nil, errors.New("shared deps not initialized")
	}
	if d.Links == nil {
		return nil, errors.New("share: shared deps are missing the share-link service")
	}

	h := public.NewHandler(d.Links, log)

	r := chi.NewRouter()
	if c.Ratelimit.Profile != "" {
		if d.Config == nil {
			return nil, errors.New("share: ratelimit profile configured without config in shared deps")
		}
		mw, err := interceptors.BuildProfile(d.Config.HTTP.Interceptors, "ratelimit", c.Ratelimit.Profile, log)
		if err != nil {
			return nil, fmt.Errorf("share: %w", err)
		}
		r.Use(mw)
	}
	r.Post("/{token}", h.HandleResolve)
	r.Get("/{token}/content", h.HandleContent)
	r.Head("/{token}/content", h.HandleContent)

	return &Service{router: r}, nil
}

// Handler returns the service's HTTP handler with RawPath clearing.
func (s *Service) Handler() http.Handler {
	return httpwrap.ClearRawPath(s.router)
}

// Prefix returns the URL prefix for this service.
func (s *Service) Prefix() string {
	return "s"
}

// Unprotected returns nil; the whole /s route group is public.
func (s *Service) Unprotected() []string {
	return nil
}

// Close releases any resources held by the service.
func (s *Service) Close() error {
	return nil
}
