// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/apperr"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/strength"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
)

// Session defaults used when AccountsConfig leaves them zero.
const (
	DefaultSessionTTL = 24 * time.Hour
	DefaultLockAfter  = 15 * time.Minute
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// AccountsConfig tunes session lifetimes. A negative LockAfter disables idle locking.
type AccountsConfig struct {
	SessionTTL time.Duration
	LockAfter  time.Duration
}

// Accounts implements registration, login and the vault lock on top of a
// PartyRepo and a SessionRepo.
type Accounts struct {
	repo       PartyRepo
	sessions   SessionRepo
	auth       *UserAuth
	sessionTTL time.Duration
	lockAfter  time.Duration
	log        *slog.Logger
	now        func() time.Time
}

// NewAccounts creates the account service.
func NewAccounts(repo PartyRepo, sessions SessionRepo, auth *UserAuth, cfg AccountsConfig, log *slog.Logger) *Accounts {
	a := &Accounts{
		repo:       repo,
		sessions:   sessions,
		auth:       auth,
		sessionTTL: cfg.SessionTTL,
		lockAfter:  cfg.LockAfter,
		log:        logutil.NoopIfNil(log),
		now:        time.Now,
	}
	if a.sessionTTL <= 0 {
		a.sessionTTL = DefaultSessionTTL
	}
	switch {
	case a.lockAfter == 0:
		a.lockAfter = DefaultLockAfter
	case a.lockAfter < 0:
		a.lockAfter = 0
	}
	return a
}

// Repo exposes the underlying user repository.
func (a *Accounts) Repo() PartyRepo { return a.repo }

// RegisterParams is the input to Register.
type RegisterParams struct {
	Username    string
	Email       string
	DisplayName string
	Password    string
}

// Register creates a regular user. Weak passwords are rejected with their deficiencies.
func (a *Accounts) Register(ctx context.Context, p RegisterParams) (*User, error) {
	p.Username = strings.TrimSpace(p.Username)
	if !usernamePattern.MatchString(p.Username) {
		return nil, apperr.Invalid("username", "must be 3-32 characters of letters, digits, '.', '_' or '-'")
	}
	if p.Email != "" && !strings.Contains(p.Email, "@") {
		return nil, apperr.Invalid("email", "must be a valid email address")
	}
	if res := strength.Evaluate(p.Password); !res.Acceptable() {
		return nil, &apperr.ValidationError{
			Field:        "password",
			Message:      "password is too weak",
			Deficiencies: res.Deficiencies,
		}
	}

	hash, err := a.auth.HashPassword(p.Password)
	if err != nil {
		return nil, err
	}
	display := p.DisplayName
	if display == "" {
		display = p.Username
	}

	user := &User{
		ID:           NewID(),
		Username:     p.Username,
		Email:        normalizeEmail(p.Email),
		DisplayName:  display,
		PasswordHash: hash,
		Role:         RoleUser,
		CreatedAt:    a.now(),
	}
	if err := a.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) || errors.Is(err, ErrEmailExists) {
			return nil, fmt.Errorf("%w: %w", apperr.ErrConflict, err)
		}
		return nil, err
	}

	a.log.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Login verifies credentials and opens a session. Unknown users and wrong
// passwords both yield ErrInvalidPassword.
func (a *Accounts) Login(ctx context.Context, username, password string) (*User, *Session, error) {
	user, err := a.auth.Authenticate(ctx, a.repo, username, password)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrInvalidPassword) {
			return nil, nil, ErrInvalidPassword
		}
		return nil, nil, err
	}

	session, err := a.sessions.Create(ctx, user.ID, a.sessionTTL, a.lockAfter)
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	return user, session, nil
}

// Logout ends a session. Unknown tokens are ignored.
func (a *Accounts) Logout(ctx context.Context, token string) error {
	return a.sessions.Delete(ctx, token)
}

// Resolve loads a live session and its user.
func (a *Accounts) Resolve(ctx context.Context, token string) (*Session, *User, error) {
	session, err := a.sessions.Get(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	user, err := a.repo.Get(ctx, session.UserID)
	if err != nil {
		return nil, nil, err
	}
	return session, user, nil
}

// IsLocked reports whether the session is locked right now.
func (a *Accounts) IsLocked(s *Session) bool {
	return s.IsLocked(a.now())
}

// Touch records activity on an unlocked session.
func (a *Accounts) Touch(ctx context.Context, token string) error {
	return a.sessions.Touch(ctx, token, a.now())
}

// Lock locks the vault for this session until Unlock.
func (a *Accounts) Lock(ctx context.Context, token string) error {
	return a.sessions.SetLocked(ctx, token, true, a.now())
}

// Unlock re-verifies the account password and unlocks the session.
func (a *Accounts) Unlock(ctx context.Context, token, password string) (*Session, error) {
	session, user, err := a.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := a.auth.VerifyPassword(user.PasswordHash, password); err != nil {
		a.log.Warn("vault unlock failed", "user_id", user.ID)
		return nil, err
	}
	if err := a.sessions.SetLocked(ctx, session.Token, false, a.now()); err != nil {
		return nil, err
	}
	return a.sessions.Get(ctx, token)
}
