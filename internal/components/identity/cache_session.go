// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/cache"
)

const (
	sessionKeyPrefix   = "session:"
	userIndexKeyPrefix = "session_user:"
)

// CacheSessionRepo keeps sessions in a cache driver so that several
// instances behind a load balancer share them. Entries expire with the session.
type CacheSessionRepo struct {
	c cache.Cache

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

// NewCacheSessionRepo creates a session repository backed by c.
func NewCacheSessionRepo(c cache.Cache) *CacheSessionRepo {
	return &CacheSessionRepo{c: c}
}

func (r *CacheSessionRepo) Create(ctx context.Context, userID string, ttl, lockAfter time.Duration) (*Session, error) {
	session, err := newSession(userID, ttl, lockAfter)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.put(ctx, session); err != nil {
		return nil, err
	}

	tokens, err := r.userTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := r.putUserTokens(ctx, userID, append(tokens, session.Token), ttl); err != nil {
		return nil, err
	}
	return session, nil
}

func (r *CacheSessionRepo) Get(ctx context.Context, token string) (*Session, error) {
	session, err := r.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.IsExpired() {
		return nil, ErrSessionExpired
	}
	return session, nil
}

func (r *CacheSessionRepo) Touch(ctx context.Context, token string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.load(ctx, token)
	if err != nil {
		return err
	}
	if !now.After(session.LastSeenAt) {
		return nil
	}
	session.LastSeenAt = now
	return r.put(ctx, session)
}

func (r *CacheSessionRepo) SetLocked(ctx context.Context, token string, locked bool, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.load(ctx, token)
	if err != nil {
		return err
	}
	applyLock(session, locked, now)
	return r.put(ctx, session)
}

func (r *CacheSessionRepo) Delete(ctx context.Context, token string) error {
	return r.c.Delete(ctx, sessionKeyPrefix+token)
}

func (r *CacheSessionRepo) DeleteByUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tokens, err := r.userTokens(ctx, userID)
	if err != nil {
		return err
	}
	for _, token := range tokens {
		if err := r.c.Delete(ctx, sessionKeyPrefix+token); err != nil {
			return err
		}
	}
	return r.c.Delete(ctx, userIndexKeyPrefix+userID)
}

// DeleteExpired is a no-op: the cache drops entries when their TTL runs out.
func (r *CacheSessionRepo) DeleteExpired(ctx context.Context) (int, error) {
	return 0, nil
}

func (r *CacheSessionRepo) load(ctx context.Context, token string) (*Session, error) {
	raw, err := r.c.Get(ctx, sessionKeyPrefix+token)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if errors.Is(err, cache.ErrExpired) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (r *CacheSessionRepo) put(ctx context.Context, s *Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return ErrSessionExpired
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.c.Set(ctx, sessionKeyPrefix+s.Token, raw, ttl)
}

func (r *CacheSessionRepo) userTokens(ctx context.Context, userID string) ([]string, error) {
	raw, err := r.c.Get(ctx, userIndexKeyPrefix+userID)
	if errors.Is(err, cache.ErrNotFound) || errors.Is(err, cache.ErrExpired) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tokens []string
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("decode session index: %w", err)
	}

	// Drop tokens whose session is already gone.
	live := tokens[:0]
	for _, t := range tokens {
		if ok, _ := r.c.Exists(ctx, sessionKeyPrefix+t); ok {
			live = append(live, t)
		}
	}
	return live, nil
}

func (r *CacheSessionRepo) putUserTokens(ctx context.Context, userID string, tokens []string, ttl time.Duration) error {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return r.c.Set(ctx, userIndexKeyPrefix+userID, raw, ttl)
}

var _ SessionRepo = (*CacheSessionRepo)(nil)
