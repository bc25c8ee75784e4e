// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
)

// SeededUser is an account created at startup from configuration.
type SeededUser struct {
	Username    string
	Password    string
	Email       string
	DisplayName string
	Role        string
}

// Bootstrap creates the super admin and seeded users idempotently.
type Bootstrap struct {
	repo PartyRepo
	auth *UserAuth
	log  *slog.Logger
}

func NewBootstrap(repo PartyRepo, auth *UserAuth, log *slog.Logger) *Bootstrap {
	return &Bootstrap{
		repo: repo,
		auth: auth,
		log:  logutil.NoopIfNil(log),
	}
}

// Run creates any missing seeded users and returns the count created.
func (b *Bootstrap) Run(ctx context.Context, seeded []SeededUser) (int, error) {
	var created int
	for _, s := range seeded {
		n, err := b.ensureUser(ctx, s)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// EnsureSuperAdmin creates the super admin described by admin if none exists.
// An empty password is replaced by a random one that is logged once.
// An existing super admin only gets its password rotated when rotate is true.
func (b *Bootstrap) EnsureSuperAdmin(ctx context.Context, admin SeededUser, rotate bool) error {
	username, password := admin.Username, admin.Password
	if username == "" {
		username = "admin"
	}
	users, err := b.repo.List(ctx)
	if err != nil {
		return err
	}

	for _, u := range users {
		if !u.IsSuperAdmin() {
			continue
		}
		if rotate && password != "" {
			hash, err := b.auth.HashPassword(password)
			if err != nil {
				return err
			}
			u.PasswordHash = hash
			if err := b.repo.Update(ctx, u); err != nil {
				return err
			}
			b.log.Info("super admin password rotated", "username", u.Username)
		}
		return nil
	}

	generated := false
	if password == "" {
		password = generateRandomPassword()
		generated = true
	}
	hash, err := b.auth.HashPassword(password)
	if err != nil {
		return err
	}

	user := &User{
		ID:           NewID(),
		Username:     username,
		Email:        admin.Email,
		DisplayName:  "Super Administrator",
		PasswordHash: hash,
		Role:         RoleSuperAdmin,
		CreatedAt:    time.Now(),
	}
	if err := b.repo.Create(ctx, user); err != nil {
		return err
	}

	if generated {
		b.log.Warn("super admin created with generated password, change it after first login",
			"username", username,
			"password", password,
			"user_id", user.ID)
	} else {
		b.log.Info("super admin created", "username", username, "user_id", user.ID)
	}
	return nil
}

func generateRandomPassword() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "changeme-" + NewID()
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func (b *Bootstrap) ensureUser(ctx context.Context, s SeededUser) (int, error) {
	_, err := b.repo.GetByUsername(ctx, s.Username)
	if err == nil {
		b.log.Debug("user already exists", "username", s.Username)
		return 0, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return 0, err
	}

	hash, err := b.auth.HashPassword(s.Password)
	if err != nil {
		return 0, err
	}
	role := s.Role
	if role == "" {
		role = RoleUser
	}

	user := &User{
		ID:           NewID(),
		Username:     s.Username,
		Email:        s.Email,
		DisplayName:  s.DisplayName,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	if err := b.repo.Create(ctx, user); err != nil {
		return 0, err
	}

	b.log.Info("created user", "username", s.Username, "role", role)
	return 1, nil
}
