// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package ratelimit provides a rate limiting interceptor using the cache subsystem.
package ratelimit

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api"
	svccfg "github.com/MahdiBaghbani/vaultshare-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/vaultshare-go/internal/interceptors"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/cache"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/deps"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
)

func init() {
	interceptors.Register("ratelimit", New)
}

// Config defines rate limiting parameters decoded from a ratelimit profile.
type Config struct {
	RequestsPerWindow int64 `mapstructure:"requests_per_window"`
	WindowSeconds     int   `mapstructure:"window_seconds"`
	// Scope namespaces the counters so two profiles never share a budget.
	Scope string `mapstructure:"scope"`
}

// ApplyDefaults sets reasonable defaults for unconfigured fields.
func (c *Config) ApplyDefaults() {
	if c.RequestsPerWindow == 0 {
		c.RequestsPerWindow = 100
	}
	if c.WindowSeconds == 0 {
		c.WindowSeconds = 60
	}
	if c.Scope == "" {
		c.Scope = "default"
	}
}

// Limiter provides rate limiting using a cache backend with trusted-proxy-aware keying.
type Limiter struct {
	cache   cache.Counter
	keyFunc func(*http.Request) string
	prefix  string
	limit   int64
	window  time.Duration
	log     *slog.Logger
}

// New creates a new ratelimit interceptor from the given config.
// The config should be the profile config from [http.interceptors.ratelimit.profiles.<name>].
func New(conf map[string]any, log *slog.Logger) (interceptors.Middleware, error) {
	var c Config
	if err := svccfg.Decode(conf, &c); err != nil {
		return nil, err
	}

	d := deps.GetDeps()
	if d == nil || d.Cache == nil || d.RealIP == nil {
		return nil, errors.New("ratelimit requires the shared cache and real-ip resolver")
	}

	limiter := &Limiter{
		cache:   d.Cache,
		keyFunc: d.RealIP.ClientIP,
		prefix:  "ratelimit:" + c.Scope + ":",
		limit:   c.RequestsPerWindow,
		window:  time.Duration(c.WindowSeconds) * time.Second,
		log:     logutil.NoopIfNil(log),
	}
	return limiter.Wrap, nil
}

// Wrap is the middleware function that applies rate limiting.
func (l *Limiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.keyFunc(r)
		count, resetAt, err := l.cache.Increment(r.Context(), l.prefix+key, 1, l.window)
		if err != nil {
			// Fail open: a cache outage must not lock users out.
			l.log.Warn("rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		if count > l.limit {
			retryAfter := max(1, int(time.Until(resetAt).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			api.WriteTooManyRequests(w, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WithKeyFunc returns a new Limiter with a custom key function.
func (l *Limiter) WithKeyFunc(fn func(*http.Request) string) *Limiter {
	c := *l
	c.keyFunc = fn
	return &c
}
