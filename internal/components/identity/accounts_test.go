// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/apperr"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
)

func newAccounts(lockAfter time.Duration) *identity.Accounts {
	return identity.NewAccounts(
		identity.NewMemoryPartyRepo(),
		identity.NewMemorySessionRepo(),
		identity.NewUserAuthFast(),
		identity.AccountsConfig{SessionTTL: time.Hour, LockAfter: lockAfter},
		testLogger(),
	)
}

func TestAccounts_Register(t *testing.T) {
	a := newAccounts(0)
	ctx := context.Background()

	user, err := a.Register(ctx, identity.RegisterParams{
		Username: "alice",
		Email:    "Alice@Example.com",
		Password: "Tr0ub4dor&3xyz",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.Role != identity.RoleUser {
		t.Errorf("expected role user, got %q", user.Role)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("expected normalized email, got %q", user.Email)
	}
	if user.DisplayName != "alice" {
		t.Errorf("expected display name to default to username, got %q", user.DisplayName)
	}

	_, err = a.Register(ctx, identity.RegisterParams{Username: "alice", Password: "Tr0ub4dor&3xyz"})
	if !errors.Is(err, apperr.ErrConflict) || !errors.Is(err, identity.ErrUserExists) {
		t.Errorf("expected conflict wrapping ErrUserExists, got %v", err)
	}
}

func TestAccounts_RegisterValidation(t *testing.T) {
	a := newAccounts(0)
	ctx := context.Background()

	tests := []struct {
		name  string
		p     identity.RegisterParams
		field string
	}{
		{"short username", identity.RegisterParams{Username: "al", Password: "Tr0ub4dor&3xyz"}, "username"},
		{"bad characters", identity.RegisterParams{Username: "al ice", Password: "Tr0ub4dor&3xyz"}, "username"},
		{"bad email", identity.RegisterParams{Username: "alice", Email: "nope", Password: "Tr0ub4dor&3xyz"}, "email"},
		{"weak password", identity.RegisterParams{Username: "alice", Password: "aaaaaaaa"}, "password"},
		{"empty password", identity.RegisterParams{Username: "alice"}, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Register(ctx, tt.p)
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
		})
	}

	_, err := a.Register(ctx, identity.RegisterParams{Username: "alice", Password: "aaaaaaaa"})
	var ve *apperr.ValidationError
	errors.As(err, &ve)
	if len(ve.Deficiencies) == 0 {
		t.Error("weak password rejection should list deficiencies")
	}
}

func TestAccounts_LoginLogout(t *testing.T) {
	a := newAccounts(0)
	ctx := context.Background()
	a.Register(ctx, identity.RegisterParams{Username: "alice", Password: "Tr0ub4dor&3xyz"})

	if _, _, err := a.Login(ctx, "alice", "wrong"); err != identity.ErrInvalidPassword {
		t.Errorf("expected ErrInvalidPassword, got %v", err)
	}
	if _, _, err := a.Login(ctx, "nobody", "Tr0ub4dor&3xyz"); err != identity.ErrInvalidPassword {
		t.Errorf("unknown user should look like a bad password, got %v", err)
	}

	user, session, err := a.Login(ctx, "alice", "Tr0ub4dor&3xyz")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if session.LockAfter != identity.DefaultLockAfter {
		t.Errorf("expected default lockAfter, got %v", session.LockAfter)
	}

	_, resolved, err := a.Resolve(ctx, session.Token)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.ID != user.ID {
		t.Errorf("resolved user %q, want %q", resolved.ID, user.ID)
	}

	if err := a.Logout(ctx, session.Token); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, _, err := a.Resolve(ctx, session.Token); err != identity.ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound after logout, got %v", err)
	}
}

func TestAccounts_LockUnlock(t *testing.T) {
	a := newAccounts(-1)
	ctx := context.Background()
	a.Register(ctx, identity.RegisterParams{Username: "alice", Password: "Tr0ub4dor&3xyz"})
	_, session, _ := a.Login(ctx, "alice", "Tr0ub4dor&3xyz")

	if err := a.Lock(ctx, session.Token); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	s, _, _ := a.Resolve(ctx, session.Token)
	if !a.IsLocked(s) {
		t.Fatal("expected session to be locked")
	}

	if _, err := a.Unlock(ctx, session.Token, "wrong"); err != identity.ErrInvalidPassword {
		t.Errorf("expected ErrInvalidPassword, got %v", err)
	}
	s, _, _ = a.Resolve(ctx, session.Token)
	if !a.IsLocked(s) {
		t.Error("failed unlock must leave the session locked")
	}

	s, err := a.Unlock(ctx, session.Token, "Tr0ub4dor&3xyz")
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if a.IsLocked(s) {
		t.Error("expected session to be unlocked")
	}
}

func TestAccounts_IdleLock(t *testing.T) {
	a := newAccounts(200 * time.Millisecond)
	ctx := context.Background()
	a.Register(ctx, identity.RegisterParams{Username: "alice", Password: "Tr0ub4dor&3xyz"})
	_, session, _ := a.Login(ctx, "alice", "Tr0ub4dor&3xyz")

	time.Sleep(120 * time.Millisecond)
	a.Touch(ctx, session.Token)
	time.Sleep(120 * time.Millisecond)

	s, _, _ := a.Resolve(ctx, session.Token)
	if a.IsLocked(s) {
		t.Error("activity should postpone the idle lock")
	}

	time.Sleep(150 * time.Millisecond)
	s, _, _ = a.Resolve(ctx, session.Token)
	if !a.IsLocked(s) {
		t.Error("expected the idle session to lock")
	}

	s, err := a.Unlock(ctx, session.Token, "Tr0ub4dor&3xyz")
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if a.IsLocked(s) {
		t.Error("unlock should reset the idle timer")
	}
}
