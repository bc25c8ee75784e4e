// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/cache/memory"
)

func sessionRepos(t *testing.T) map[string]identity.SessionRepo {
	t.Helper()
	c := memory.New(time.Minute, 0)
	t.Cleanup(func() { c.Close() })

	return map[string]identity.SessionRepo{
		"memory": identity.NewMemorySessionRepo(),
		"cache":  identity.NewCacheSessionRepo(c),
	}
}

func TestSession_IsLocked(t *testing.T) {
	seen := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		session identity.Session
		now     time.Time
		want    bool
	}{
		{"fresh", identity.Session{LastSeenAt: seen, LockAfter: time.Minute}, seen.Add(30 * time.Second), false},
		{"idle exactly lockAfter", identity.Session{LastSeenAt: seen, LockAfter: time.Minute}, seen.Add(time.Minute), true},
		{"idle past lockAfter", identity.Session{LastSeenAt: seen, LockAfter: time.Minute}, seen.Add(time.Hour), true},
		{"idle locking disabled", identity.Session{LastSeenAt: seen}, seen.Add(24 * time.Hour), false},
		{"explicit lock", identity.Session{LastSeenAt: seen, LockAfter: time.Minute, Locked: true}, seen, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.IsLocked(tt.now); got != tt.want {
				t.Errorf("IsLocked() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionRepo_CRUD(t *testing.T) {
	for name, repo := range sessionRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			session, err := repo.Create(ctx, "user-123", time.Hour, time.Minute)
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if session.Token == "" {
				t.Error("token should be assigned")
			}
			if session.LockAfter != time.Minute {
				t.Errorf("expected lockAfter 1m, got %v", session.LockAfter)
			}

			got, err := repo.Get(ctx, session.Token)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.UserID != "user-123" {
				t.Errorf("expected userID 'user-123', got %q", got.UserID)
			}

			if err := repo.Delete(ctx, session.Token); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, err := repo.Get(ctx, session.Token); err != identity.ErrSessionNotFound {
				t.Errorf("expected ErrSessionNotFound, got %v", err)
			}
		})
	}
}

func TestSessionRepo_TouchAndLock(t *testing.T) {
	for name, repo := range sessionRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session, _ := repo.Create(ctx, "user-123", time.Hour, time.Minute)

			later := session.LastSeenAt.Add(40 * time.Second)
			if err := repo.Touch(ctx, session.Token, later); err != nil {
				t.Fatalf("Touch failed: %v", err)
			}
			got, _ := repo.Get(ctx, session.Token)
			if !got.LastSeenAt.Equal(later) {
				t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, later)
			}
			if got.IsLocked(later.Add(30 * time.Second)) {
				t.Error("touched session should not be idle-locked after 30s")
			}

			if err := repo.SetLocked(ctx, session.Token, true, later); err != nil {
				t.Fatalf("SetLocked(true) failed: %v", err)
			}
			got, _ = repo.Get(ctx, session.Token)
			if !got.IsLocked(later) {
				t.Error("expected session to be locked")
			}

			unlockAt := later.Add(5 * time.Minute)
			if err := repo.SetLocked(ctx, session.Token, false, unlockAt); err != nil {
				t.Fatalf("SetLocked(false) failed: %v", err)
			}
			got, _ = repo.Get(ctx, session.Token)
			if got.IsLocked(unlockAt) {
				t.Error("expected session to be unlocked")
			}

			if err := repo.Touch(ctx, "missing", later); err != identity.ErrSessionNotFound {
				t.Errorf("expected ErrSessionNotFound, got %v", err)
			}
		})
	}
}

func TestSessionRepo_ExpiredSession(t *testing.T) {
	repo := identity.NewMemorySessionRepo()
	ctx := context.Background()

	session, err := repo.Create(ctx, "user-123", time.Millisecond, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := repo.Get(ctx, session.Token); err != identity.ErrSessionExpired {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}

	count, err := repo.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 expired session, got %d", count)
	}
}

func TestSessionRepo_DeleteByUser(t *testing.T) {
	for name, repo := range sessionRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s1, _ := repo.Create(ctx, "user-123", time.Hour, 0)
			s2, _ := repo.Create(ctx, "user-123", time.Hour, 0)
			other, _ := repo.Create(ctx, "user-456", time.Hour, 0)

			if err := repo.DeleteByUser(ctx, "user-123"); err != nil {
				t.Fatalf("DeleteByUser failed: %v", err)
			}

			for _, s := range []*identity.Session{s1, s2} {
				if _, err := repo.Get(ctx, s.Token); err != identity.ErrSessionNotFound {
					t.Errorf("expected ErrSessionNotFound, got %v", err)
				}
			}
			if _, err := repo.Get(ctx, other.Token); err != nil {
				t.Errorf("other user's session should survive: %v", err)
			}
		})
	}
}

func TestGenerateToken(t *testing.T) {
	t1, err := identity.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	t2, _ := identity.GenerateToken()

	if t1 == t2 {
		t.Error("tokens should be unique")
	}
	if len(t1) != 43 {
		t.Errorf("expected 43 characters for 32 random bytes, got %d", len(t1))
	}
}
