// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package redis provides a Redis/Valkey cache driver on valkey-go.
// Use it when several instances must share sessions and rate limit windows.
package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/valkey-io/valkey-go"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/cache"
)

func init() {
	cache.RegisterDriver("redis", func(m map[string]any) (cache.CacheWithCounter, error) {
		cfg, err := configFromMap(m)
		if err != nil {
			return nil, err
		}
		return New(cfg)
	})
}

// Config holds Redis connection configuration.
type Config struct {
	Addr         string        // Redis address (host:port)
	Password     string        // Optional password
	DB           int           // Database number
	DialTimeout  time.Duration // Connection timeout
	WriteTimeout time.Duration // Write timeout
	DefaultTTL   time.Duration // TTL used when Set is called with 0
}

// DefaultConfig returns sensible defaults for Redis connection.
func DefaultConfig() *Config {
	return &Config{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		DefaultTTL:   cache.TTLDefault,
	}
}

// fileConfig is the [cache.drivers.redis] section.
type fileConfig struct {
	Addr              string `mapstructure:"addr"`
	Password          string `mapstructure:"password"`
	DB                int    `mapstructure:"db"`
	DialTimeoutMS     int    `mapstructure:"dial_timeout_ms"`
	WriteTimeoutMS    int    `mapstructure:"write_timeout_ms"`
	DefaultTTLSeconds int    `mapstructure:"default_ttl_seconds"`
}

func configFromMap(m map[string]any) (*Config, error) {
	var fc fileConfig
	if err := mapstructure.WeakDecode(m, &fc); err != nil {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}

	cfg := DefaultConfig()
	if fc.Addr != "" {
		cfg.Addr = fc.Addr
	}
	cfg.Password = fc.Password
	cfg.DB = fc.DB
	if fc.DialTimeoutMS > 0 {
		cfg.DialTimeout = time.Duration(fc.DialTimeoutMS) * time.Millisecond
	}
	if fc.WriteTimeoutMS > 0 {
		cfg.WriteTimeout = time.Duration(fc.WriteTimeoutMS) * time.Millisecond
	}
	if fc.DefaultTTLSeconds > 0 {
		cfg.DefaultTTL = time.Duration(fc.DefaultTTLSeconds) * time.Second
	}
	return cfg, nil
}

// incrScript increments and starts the window only on the first hit,
// returning the value and the remaining window in milliseconds.
var incrScript = valkey.NewLuaScript(`
local v = redis.call('INCRBY', KEYS[1], ARGV[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {v, redis.call('PTTL', KEYS[1])}
`)

// Cache is a valkey-backed CacheWithCounter.
type Cache struct {
	client     valkey.Client
	defaultTTL time.Duration
}

// New connects to the server and fails if it cannot be reached.
func New(cfg *Config) (*Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = cache.TTLDefault
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:      []string{cfg.Addr},
		Password:         cfg.Password,
		SelectDB:         cfg.DB,
		Dialer:           net.Dialer{Timeout: cfg.DialTimeout},
		ConnWriteTimeout: cfg.WriteTimeout,
		DisableCache:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Addr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("health check %s: %w", cfg.Addr, err)
	}

	return &Cache{client: client, defaultTTL: cfg.DefaultTTL}, nil
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Set stores a value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	cmd := c.client.B().Set().Key(key).Value(valkey.BinaryString(value)).PxMilliseconds(ttl.Milliseconds()).Build()
	return c.client.Do(ctx, cmd).Error()
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error()
}

// Exists checks if a key exists.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Increment adds delta to a counter and returns the new value and reset time.
func (c *Cache) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()

	res, err := incrScript.Exec(ctx, c.client, []string{key}, []string{
		fmt.Sprint(delta),
		fmt.Sprint(ttl.Milliseconds()),
	}).ToArray()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected increment reply of length %d", len(res))
	}

	count, err := res[0].AsInt64()
	if err != nil {
		return 0, time.Time{}, err
	}
	pttl, err := res[1].AsInt64()
	if err != nil {
		return 0, time.Time{}, err
	}
	return count, now.Add(time.Duration(pttl) * time.Millisecond), nil
}

// GetCount returns the current counter value, 0 when absent.
func (c *Cache) GetCount(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).AsInt64()
	if valkey.IsValkeyNil(err) {
		return 0, nil
	}
	return n, err
}

// Reset removes a counter.
func (c *Cache) Reset(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}

// Close releases the client.
func (c *Cache) Close() error {
	c.client.Close()
	return nil
}

var _ cache.CacheWithCounter = (*Cache)(nil)
