// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package api provides the /api/* endpoints.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api/accounts"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api/auditlog"
	apichat "github.com/MahdiBaghbani/vaultshare-go/internal/components/api/chat"
	apifiles "github.com/MahdiBaghbani/vaultshare-go/internal/components/api/files"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api/passwords"
	"github.com/MahdiBaghbani/vaultshare-go/internal/frameworks/service"
	svccfg "github.com/MahdiBaghbani/vaultshare-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/vaultshare-go/internal/frameworks/service/httpwrap"
	"github.com/MahdiBaghbani/vaultshare-go/internal/interceptors"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/deps"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/http/auth"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
)

func init() {
	service.MustRegister("api", New)
}

// Config holds api service configuration.
type Config struct {
	// Ratelimit applies to every /api route.
	Ratelimit RatelimitConfig `mapstructure:"ratelimit"`
	// AuthRatelimit applies to login and registration only.
	AuthRatelimit RatelimitConfig `mapstructure:"auth_ratelimit"`
}

// RatelimitConfig holds the per-service rate limiting opt-in.
type RatelimitConfig struct {
	// Profile names a profile from [http.interceptors.ratelimit.profiles.<name>].
	Profile string `mapstructure:"profile"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {}

// Service is the API service.
type Service struct {
	router chi.Router
	conf   *Config
	log    *slog.Logger
}

// New creates a new API service.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	log = logutil.NoopIfNil(log)
	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "api", "unused_keys", unused)
	}

	d := deps.GetDeps()
	if d == nil {
		return nil, errors.New("shared deps not initialized")
	}
	if d.Accounts == nil || d.Credentials == nil || d.Files == nil || d.Links == nil || d.Chat == nil || d.Audit == nil {
		return nil, errors.New("api: shared deps are missing components")
	}

	serviceLimit, err := ratelimitFor(d, c.Ratelimit, log)
	if err != nil {
		return nil, err
	}
	authLimit, err := ratelimitFor(d, c.AuthRatelimit, log)
	if err != nil {
		return nil, err
	}

	accountsHandler := accounts.NewHandler(d.Accounts, auth.CurrentUser, log)
	passwordsHandler := passwords.NewHandler(d.Credentials, auth.CurrentUser, log)
	filesHandler := apifiles.NewHandler(d.Files, d.Links, auth.CurrentUser, log)
	chatHandler := apichat.NewHandler(d.Chat, auth.CurrentUser, log)
	auditHandler := auditlog.NewHandler(d.Audit, auth.CurrentUser, log)

	r := chi.NewRouter()
	if serviceLimit != nil {
		r.Use(serviceLimit)
	}

	r.Get("/healthz", api.HealthHandler)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if authLimit != nil {
				r.Use(authLimit)
			}
			r.Post("/register", accountsHandler.HandleRegister)
			r.Post("/login", accountsHandler.HandleLogin)
		})
		r.Post("/logout", accountsHandler.HandleLogout)
		r.Get("/me", accountsHandler.HandleMe)
		r.Post("/lock", accountsHandler.HandleLock)
		r.Post("/unlock", accountsHandler.HandleUnlock)
	})

	r.Route("/passwords", func(r chi.Router) {
		r.Post("/strength", passwordsHandler.HandleStrength)
		r.Post("/generate", passwordsHandler.HandleGenerate)
		r.Get("/categories", passwordsHandler.HandleCategories)
		r.Get("/overview", passwordsHandler.HandleOverview)
		r.Get("/", passwordsHandler.HandleList)
		r.Post("/", passwordsHandler.HandleCreate)
		r.Get("/{id}", passwordsHandler.HandleGet)
		r.Put("/{id}", passwordsHandler.HandleUpdate)
		r.Delete("/{id}", passwordsHandler.HandleDelete)
	})

	r.Route("/folders", func(r chi.Router) {
		r.Get("/", filesHandler.HandleListFolders)
		r.Post("/", filesHandler.HandleCreateFolder)
		r.Put("/{id}", filesHandler.HandleRenameFolder)
		r.Delete("/{id}", filesHandler.HandleDeleteFolder)
	})

	r.Route("/files", func(r chi.Router) {
		r.Get("/", filesHandler.HandleListFiles)
		r.Post("/", filesHandler.HandleUpload)
		r.Get("/{id}", filesHandler.HandleGetFile)
		r.Delete("/{id}", filesHandler.HandleDeleteFile)
		r.Get("/{id}/content", filesHandler.HandleDownload)
		r.Put("/{id}/folder", filesHandler.HandleMove)
		r.Get("/{id}/share", filesHandler.HandleListLinks)
		r.Post("/{id}/share", filesHandler.HandleShare)
		r.Delete("/{id}/share/{linkId}", filesHandler.HandleRevoke)
	})

	r.Route("/chat", func(r chi.Router) {
		r.Get("/contacts", chatHandler.HandleContacts)
		r.Get("/messages/{userId}", chatHandler.HandleConversation)
		r.Post("/messages", chatHandler.HandleSend)
		r.Get("/ws", chatHandler.HandleWebsocket)
	})

	r.Get("/audit", auditHandler.HandleList)

	return &Service{router: r, conf: &c, log: log}, nil
}

// ratelimitFor builds the ratelimit middleware for rc, or nil when no
// profile is configured.
func ratelimitFor(d *deps.Deps, rc RatelimitConfig, log *slog.Logger) (func(http.Handler) http.Handler, error) {
	if rc.Profile == "" {
		return nil, nil
	}
	if d.Config == nil {
		return nil, errors.New("api: ratelimit profile configured without config in shared deps")
	}
	mw, err := interceptors.BuildProfile(d.Config.HTTP.Interceptors, "ratelimit", rc.Profile, log)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	return mw, nil
}

// Handler returns the service's HTTP handler with RawPath clearing.
func (s *Service) Handler() http.Handler {
	return httpwrap.ClearRawPath(s.router)
}

// Prefix returns the URL prefix for this service.
func (s *Service) Prefix() string {
	return "api"
}

// Unprotected returns paths that don't require session authentication.
func (s *Service) Unprotected() []string {
	return []string{"/healthz", "/auth/login", "/auth/register"}
}

// LockExempt returns paths that stay reachable while the vault is locked.
func (s *Service) LockExempt() []string {
	return []string{"/auth/logout", "/auth/me", "/auth/lock", "/auth/unlock"}
}

// Close releases any resources held by the service.
func (s *Service) Close() error {
	return nil
}
