// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// Session is an authenticated browser or API session.
//
// The vault lock is not a timer: a session counts as locked once LockAfter
// has elapsed since LastSeenAt, or after an explicit Lock. Unlock requires the
// account password and resets LastSeenAt.
type Session struct {
	Token      string        `json:"token"`
	UserID     string        `json:"user_id"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	LastSeenAt time.Time     `json:"last_seen_at"`
	LockAfter  time.Duration `json:"lock_after"` // 0 disables idle locking
	Locked     bool          `json:"locked"`
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return !time.Now().Before(s.ExpiresAt)
}

// IsLocked reports whether vault routes must refuse the session at now.
func (s *Session) IsLocked(now time.Time) bool {
	if s.Locked {
		return true
	}
	return s.LockAfter > 0 && now.Sub(s.LastSeenAt) >= s.LockAfter
}

// SessionRepo provides session storage operations.
type SessionRepo interface {
	// Create creates a new session for the user.
	Create(ctx context.Context, userID string, ttl, lockAfter time.Duration) (*Session, error)

	// Get retrieves a session by token. Returns ErrSessionNotFound or ErrSessionExpired.
	Get(ctx context.Context, token string) (*Session, error)

	// Touch records activity at now.
	Touch(ctx context.Context, token string, now time.Time) error

	// SetLocked sets the explicit lock flag. Unlocking also records activity at now.
	SetLocked(ctx context.Context, token string, locked bool, now time.Time) error

	// Delete removes a session (logout).
	Delete(ctx context.Context, token string) error

	// DeleteByUser removes all sessions for a user.
	DeleteByUser(ctx context.Context, userID string) error

	// DeleteExpired removes all expired sessions.
	DeleteExpired(ctx context.Context) (int, error)
}

// GenerateToken creates a cryptographically secure random token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func newSession(userID string, ttl, lockAfter time.Duration) (*Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{
		Token:      token,
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastSeenAt: now,
		LockAfter:  lockAfter,
	}, nil
}

// applyLock mutates s for SetLocked.
func applyLock(s *Session, locked bool, now time.Time) {
	s.Locked = locked
	if !locked {
		s.LastSeenAt = now
	}
}

// MemorySessionRepo is an in-memory implementation of SessionRepo.
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*Session // by token
	byUser   map[string][]string // userID -> tokens
}

// NewMemorySessionRepo creates a new in-memory session repository.
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{
		sessions: make(map[string]*Session),
		byUser:   make(map[string][]string),
	}
}

func (r *MemorySessionRepo) Create(ctx context.Context, userID string, ttl, lockAfter time.Duration) (*Session, error) {
	session, err := newSession(userID, ttl, lockAfter)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.Token] = session
	r.byUser[userID] = append(r.byUser[userID], session.Token)

	s := *session
	return &s, nil
}

func (r *MemorySessionRepo) Get(ctx context.Context, token string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.IsExpired() {
		return nil, ErrSessionExpired
	}
	s := *session
	return &s, nil
}

func (r *MemorySessionRepo) Touch(ctx context.Context, token string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[token]
	if !ok {
		return ErrSessionNotFound
	}
	if now.After(session.LastSeenAt) {
		session.LastSeenAt = now
	}
	return nil
}

func (r *MemorySessionRepo) SetLocked(ctx context.Context, token string, locked bool, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[token]
	if !ok {
		return ErrSessionNotFound
	}
	applyLock(session, locked, now)
	return nil
}

func (r *MemorySessionRepo) Delete(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(token)
	return nil
}

func (r *MemorySessionRepo) DeleteByUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, token := range r.byUser[userID] {
		delete(r.sessions, token)
	}
	delete(r.byUser, userID)
	return nil
}

func (r *MemorySessionRepo) DeleteExpired(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int
	for token, session := range r.sessions {
		if session.IsExpired() {
			r.removeLocked(token)
			count++
		}
	}
	return count, nil
}

// removeLocked drops a token from both maps. Caller holds r.mu.
func (r *MemorySessionRepo) removeLocked(token string) {
	session, ok := r.sessions[token]
	if !ok {
		return
	}
	tokens := r.byUser[session.UserID]
	for i, t := range tokens {
		if t == token {
			r.byUser[session.UserID] = append(tokens[:i], tokens[i+1:]...)
			break
		}
	}
	if len(r.byUser[session.UserID]) == 0 {
		delete(r.byUser, session.UserID)
	}
	delete(r.sessions, token)
}
