// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package memory provides an in-process cache with TTL support.
// It suits single-instance deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/cache"
)

// Config is the [cache.drivers.memory] section.
type Config struct {
	DefaultTTLSeconds      int `mapstructure:"default_ttl_seconds"`
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

func init() {
	cache.RegisterDriver("memory", func(m map[string]any) (cache.CacheWithCounter, error) {
		cfg := Config{DefaultTTLSeconds: 900, CleanupIntervalSeconds: 300}
		if err := decode(m, &cfg); err != nil {
			return nil, err
		}
		return New(
			time.Duration(cfg.DefaultTTLSeconds)*time.Second,
			time.Duration(cfg.CleanupIntervalSeconds)*time.Second,
		), nil
	})
}

func decode(m map[string]any, out *Config) error {
	if len(m) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(m)
}

// entry holds either a value or a counter.
type entry struct {
	value     []byte
	count     int64
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Cache is an in-memory cache with TTL support.
type Cache struct {
	mu         sync.RWMutex
	values     map[string]*entry
	counters   map[string]*entry
	defaultTTL time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a new in-memory cache.
// cleanupInterval specifies how often expired entries are dropped (0 disables).
func New(defaultTTL, cleanupInterval time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = cache.TTLDefault
	}
	c := &Cache{
		values:     make(map[string]*entry),
		counters:   make(map[string]*entry),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}
	return c
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired(time.Now())
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) deleteExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range []map[string]*entry{c.values, c.counters} {
		for k, e := range m {
			if e.expired(now) {
				delete(m, k)
			}
		}
	}
}

func (c *Cache) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.defaultTTL
	}
	return ttl
}

// Get retrieves a copy of the value stored under key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.values[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	if e.expired(time.Now()) {
		return nil, cache.ErrExpired
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := &entry{
		value:     append([]byte(nil), value...),
		expiresAt: time.Now().Add(c.ttl(ttl)),
	}

	c.mu.Lock()
	c.values[key] = e
	c.mu.Unlock()
	return nil
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
	return nil
}

// Exists checks if a key exists and is not expired.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.values[key]
	return ok && !e.expired(time.Now()), nil
}

// Increment adds delta to a counter and returns the new value and reset time.
func (c *Cache) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.counters[key]
	if !ok || e.expired(now) {
		e = &entry{expiresAt: now.Add(c.ttl(ttl))}
		c.counters[key] = e
	}
	e.count += delta
	return e.count, e.expiresAt, nil
}

// GetCount returns the current counter value.
func (c *Cache) GetCount(ctx context.Context, key string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.counters[key]
	if !ok || e.expired(time.Now()) {
		return 0, nil
	}
	return e.count, nil
}

// Reset removes a counter.
func (c *Cache) Reset(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.counters, key)
	c.mu.Unlock()
	return nil
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

// Ensure Cache implements CacheWithCounter.
var _ cache.CacheWithCounter = (*Cache)(nil)
