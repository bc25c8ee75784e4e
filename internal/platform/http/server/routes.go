// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package server

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api"
	"github.com/MahdiBaghbani/vaultshare-go/internal/frameworks/service"
	"github.com/MahdiBaghbani/vaultshare-go/internal/interceptors"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/interceptors/cors"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/deps"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/http/auth"
	httpmw "github.com/MahdiBaghbani/vaultshare-go/internal/platform/http/middleware"
)

// RouteGroup defines an endpoint group with its auth requirements.
type RouteGroup struct {
	Name         string
	PathPrefix   string
	RequiresAuth bool
}

// routeGroups is the single source of truth for gating decisions. Every group
// is mounted under external_base_path.
var routeGroups = []RouteGroup{
	{Name: "api", PathPrefix: "/api", RequiresAuth: true}, // exceptions via Service.Unprotected()
	{Name: "share", PathPrefix: "/s", RequiresAuth: false},
}

// mountOrder lists the services mounted first; any other registered service
// follows in name order.
var mountOrder = []string{"api", "share"}

// GetRouteGroups returns the route group definitions for testing.
func GetRouteGroups() []RouteGroup {
	return routeGroups
}

// IsAuthRequired reports whether path needs a session. Unprotected paths
// declared by mounted services win over their route group.
func IsAuthRequired(path string, basePath string, mountedServices []service.Service) bool {
	for _, svc := range mountedServices {
		if svc == nil {
			continue
		}
		svcBase := serviceBase(basePath, svc)
		for _, unprotected := range svc.Unprotected() {
			if pathMatchesPrefix(path, svcBase+unprotected) {
				return false
			}
		}
	}

	for _, rg := range routeGroups {
		if pathMatchesPrefix(path, basePath+rg.PathPrefix) {
			return rg.RequiresAuth
		}
	}

	// Unknown paths require auth.
	return true
}

// IsLockable reports whether path is refused while the caller's vault is
// locked. Paths a mounted service lists in LockExempt stay reachable.
func IsLockable(path string, basePath string, mountedServices []service.Service) bool {
	for _, svc := range mountedServices {
		l, ok := svc.(service.Lockable)
		if !ok {
			continue
		}
		svcBase := serviceBase(basePath, svc)
		for _, exempt := range l.LockExempt() {
			if pathMatchesPrefix(path, svcBase+exempt) {
				return false
			}
		}
	}
	return true
}

func serviceBase(basePath string, svc service.Service) string {
	if prefix := svc.Prefix(); prefix != "" {
		return basePath + "/" + prefix
	}
	return basePath
}

// pathMatchesPrefix checks if path equals or is a subpath of prefix.
func pathMatchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

// orderedServices returns the configured services in mount order.
func orderedServices(services map[string]service.Service) []string {
	names := make([]string, 0, len(services))
	seen := make(map[string]bool, len(services))
	for _, name := range mountOrder {
		if services[name] != nil {
			names = append(names, name)
			seen[name] = true
		}
	}
	var rest []string
	for name, svc := range services {
		if svc != nil && !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// mountService mounts a service and tracks it for lifecycle management.
func (s *Server) mountService(r chi.Router, svc service.Service) {
	if prefix := svc.Prefix(); prefix != "" {
		r.Mount("/"+prefix, svc.Handler())
	} else {
		r.Mount("/", svc.Handler())
	}
	s.mountedServices = append(s.mountedServices, svc)
}

// setupRoutes creates the chi router with every service mounted.
func (s *Server) setupRoutes() (chi.Router, error) {
	d := deps.GetDeps()
	r := chi.NewRouter()

	// Always-on transport middleware (order is invariant):
	// RequestID -> request-scoped logger -> access log -> recoverer -> cors -> auth gate
	r.Use(chimw.RequestID)
	r.Use(httpmw.RequestLoggerMiddleware(s.logger, d.RealIP))
	r.Use(httpmw.AccessLogMiddleware(s.logger, d.RealIP))
	r.Use(chimw.Recoverer)

	// CORS answers preflights before the gate sees them.
	corsMW, err := interceptors.Build("cors", s.cfg.HTTP.Interceptors["cors"], s.logger)
	if err != nil {
		return nil, fmt.Errorf("cors interceptor: %w", err)
	}
	r.Use(corsMW)

	// The closures read s.mountedServices at request time.
	basePath := s.cfg.ExternalBasePath
	r.Use(auth.NewAuthGate(auth.AuthGateConfig{
		RequireAuth: func(path string) bool {
			return IsAuthRequired(path, basePath, s.mountedServices)
		},
		Lockable: func(path string) bool {
			return IsLockable(path, basePath, s.mountedServices)
		},
		Accounts: d.Accounts,
		Log:      s.logger,
	}))

	mount := func(r chi.Router) {
		for _, name := range orderedServices(s.services) {
			s.mountService(r, s.services[name])
		}
	}
	if basePath != "" {
		r.Route(basePath, mount)
	} else {
		mount(r)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.WriteNotFound(w, "no such endpoint")
	})
	return r, nil
}
