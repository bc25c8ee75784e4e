// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package testutil provides shared test helpers for store driver tests.
package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

func ms(t time.Time) int64 { return t.UnixMilli() }

// TestUser creates a test user.
func TestUser(id, username string) *store.User {
	return &store.User{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		DisplayName:  username,
		PasswordHash: "$argon2id$v=19$m=16384,t=1,p=2$c2FsdA$aGFzaA",
		Role:         "user",
		CreatedAt:    ms(time.Now()),
	}
}

// TestFile creates a test file owned by owner.
func TestFile(id, owner string) *store.File {
	now := ms(time.Now())
	return &store.File{
		ID:         id,
		Owner:      owner,
		Name:       "report.pdf",
		StorageRef: owner + "/" + id,
		MimeType:   "application/pdf",
		SizeBytes:  2048,
		FolderID:   "root",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TestShareLink creates a live download link for fileID.
func TestShareLink(id, fileID, token string, limit int) *store.ShareLink {
	return &store.ShareLink{
		ID:                 id,
		FileID:             fileID,
		Token:              token,
		Recipients:         []string{"bob@example.com"},
		Permission:         "download",
		ExpiresAt:          ms(time.Now().Add(time.Hour)),
		DownloadLimit:      limit,
		RemainingDownloads: limit,
		CreatedAt:          ms(time.Now()),
	}
}

// RunDriverTests runs the standard test suite against a driver.
func RunDriverTests(t *testing.T, driverName string, cfg *store.DriverConfig) {
	ctx := context.Background()

	driver, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create %s driver: %v", driverName, err)
	}
	defer driver.Close()

	if err := driver.Init(ctx); err != nil {
		t.Fatalf("failed to init %s driver: %v", driverName, err)
	}

	if driver.Name() != driverName {
		t.Errorf("expected driver name %q, got %q", driverName, driver.Name())
	}

	t.Run("UserCRUD", func(t *testing.T) { TestUserCRUD(t, ctx, driver) })
	t.Run("CredentialCRUD", func(t *testing.T) { TestCredentialCRUD(t, ctx, driver) })
	t.Run("FolderCRUD", func(t *testing.T) { TestFolderCRUD(t, ctx, driver) })
	t.Run("FileWithLinks", func(t *testing.T) { TestFileWithLinks(t, ctx, driver) })
	t.Run("ConsumeShareLink", func(t *testing.T) { TestConsumeShareLink(t, ctx, driver) })
	t.Run("ConcurrentConsume", func(t *testing.T) { TestConcurrentConsume(t, ctx, driver) })
	t.Run("PurgeShareLinks", func(t *testing.T) { TestPurgeShareLinks(t, ctx, driver) })
	t.Run("Messages", func(t *testing.T) { TestMessages(t, ctx, driver) })
	t.Run("Audit", func(t *testing.T) { TestAudit(t, ctx, driver) })
}

// TestUserCRUD tests CRUD operations for users.
func TestUserCRUD(t *testing.T, ctx context.Context, s store.UserStore) {
	u := TestUser("user-1", "alice")

	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := s.CreateUser(ctx, TestUser("user-dup", "alice")); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists for duplicate username, got %v", err)
	}

	got, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if got.ID != u.ID || got.PasswordHash != u.PasswordHash {
		t.Errorf("unexpected user %+v", got)
	}

	got, err = s.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("expected id %q, got %q", u.ID, got.ID)
	}

	u.DisplayName = "Alice A."
	if err := s.UpdateUser(ctx, u); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if got.DisplayName != "Alice A." {
		t.Errorf("expected updated display name, got %q", got.DisplayName)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) == 0 {
		t.Error("expected at least one user")
	}

	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if _, err := s.GetUser(ctx, u.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteUser(ctx, u.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

// TestCredentialCRUD tests CRUD operations for vault entries.
func TestCredentialCRUD(t *testing.T, ctx context.Context, s store.CredentialStore) {
	now := ms(time.Now())
	c := &store.Credential{
		ID:           "cred-1",
		Owner:        "owner-cred",
		Website:      "example.com",
		Username:     "alice",
		Secret:       "Password1!",
		Category:     "Work",
		StrengthTier: "strong",
		Fingerprint:  "fp-1",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	other := &store.Credential{ID: "cred-2", Owner: "someone-else", Website: "x.org", CreatedAt: now, UpdatedAt: now}

	if err := s.CreateCredential(ctx, c); err != nil {
		t.Fatalf("CreateCredential failed: %v", err)
	}
	if err := s.CreateCredential(ctx, other); err != nil {
		t.Fatalf("CreateCredential failed: %v", err)
	}

	got, err := s.GetCredential(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if got.Secret != c.Secret || got.Fingerprint != c.Fingerprint {
		t.Errorf("unexpected credential %+v", got)
	}

	c.Secret = "Another2@"
	c.StrengthTier = "strong"
	if err := s.UpdateCredential(ctx, c); err != nil {
		t.Fatalf("UpdateCredential failed: %v", err)
	}
	got, _ = s.GetCredential(ctx, c.ID)
	if got.Secret != "Another2@" {
		t.Errorf("expected updated secret, got %q", got.Secret)
	}

	list, err := s.ListCredentials(ctx, "owner-cred")
	if err != nil {
		t.Fatalf("ListCredentials failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != c.ID {
		t.Errorf("expected only the owner's credential, got %d entries", len(list))
	}

	if err := s.UpdateCredential(ctx, &store.Credential{ID: "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound updating missing credential, got %v", err)
	}

	if err := s.DeleteCredential(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCredential failed: %v", err)
	}
	if _, err := s.GetCredential(ctx, c.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	s.DeleteCredential(ctx, other.ID)
}

// TestFolderCRUD tests folders and the entry count used to refuse non-empty deletes.
func TestFolderCRUD(t *testing.T, ctx context.Context, s store.Store) {
	now := ms(time.Now())
	parent := &store.Folder{ID: "folder-1", Owner: "owner-folder", Name: "Docs", CreatedAt: now}
	child := &store.Folder{ID: "folder-2", Owner: "owner-folder", Name: "Tax", ParentID: parent.ID, CreatedAt: now}

	if err := s.CreateFolder(ctx, parent); err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	if err := s.CreateFolder(ctx, child); err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}

	n, err := s.CountFolderEntries(ctx, parent.ID)
	if err != nil {
		t.Fatalf("CountFolderEntries failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 entry (subfolder), got %d", n)
	}

	f := TestFile("file-in-child", "owner-folder")
	f.FolderID = child.ID
	if err := s.CreateFile(ctx, f); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	n, _ = s.CountFolderEntries(ctx, child.ID)
	if n != 1 {
		t.Errorf("expected 1 entry (file), got %d", n)
	}

	parent.Name = "Documents"
	if err := s.UpdateFolder(ctx, parent); err != nil {
		t.Fatalf("UpdateFolder failed: %v", err)
	}
	got, _ := s.GetFolder(ctx, parent.ID)
	if got.Name != "Documents" {
		t.Errorf("expected renamed folder, got %q", got.Name)
	}

	folders, err := s.ListFolders(ctx, "owner-folder")
	if err != nil {
		t.Fatalf("ListFolders failed: %v", err)
	}
	if len(folders) != 2 {
		t.Errorf("expected 2 folders, got %d", len(folders))
	}

	s.DeleteFile(ctx, f.ID)
	if err := s.DeleteFolder(ctx, child.ID); err != nil {
		t.Fatalf("DeleteFolder failed: %v", err)
	}
	if err := s.DeleteFolder(ctx, child.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
	s.DeleteFolder(ctx, parent.ID)
}

// TestFileWithLinks tests file metadata and the owned share link collection.
func TestFileWithLinks(t *testing.T, ctx context.Context, s store.Store) {
	f := TestFile("file-links", "owner-links")
	if err := s.CreateFile(ctx, f); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}

	l1 := TestShareLink("link-1", f.ID, "token-aaaa", 3)
	l2 := TestShareLink("link-2", f.ID, "token-bbbb", 1)
	l2.PasswordProtected = true
	l2.PasswordHash = "$2a$10$hash"
	for _, l := range []*store.ShareLink{l1, l2} {
		if err := s.AddShareLink(ctx, l); err != nil {
			t.Fatalf("AddShareLink failed: %v", err)
		}
	}

	orphan := TestShareLink("link-orphan", "no-such-file", "token-cccc", 1)
	if err := s.AddShareLink(ctx, orphan); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound adding link to missing file, got %v", err)
	}

	got, err := s.GetFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if len(got.ShareLinks) != 2 {
		t.Fatalf("expected 2 share links, got %d", len(got.ShareLinks))
	}

	link, err := s.GetShareLinkByToken(ctx, "token-bbbb")
	if err != nil {
		t.Fatalf("GetShareLinkByToken failed: %v", err)
	}
	if link.ID != "link-2" || !link.PasswordProtected || link.PasswordHash != l2.PasswordHash {
		t.Errorf("unexpected link %+v", link)
	}
	if len(link.Recipients) != 1 || link.Recipients[0] != "bob@example.com" {
		t.Errorf("expected recipients to round-trip, got %v", link.Recipients)
	}

	// Metadata updates leave links untouched.
	got.Name = "renamed.pdf"
	got.FolderID = "elsewhere"
	if err := s.UpdateFile(ctx, got); err != nil {
		t.Fatalf("UpdateFile failed: %v", err)
	}
	got, _ = s.GetFile(ctx, f.ID)
	if got.Name != "renamed.pdf" || len(got.ShareLinks) != 2 {
		t.Errorf("expected renamed file with 2 links, got %q with %d", got.Name, len(got.ShareLinks))
	}

	files, err := s.ListFiles(ctx, "owner-links", "elsewhere")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("expected 1 file in folder, got %d", len(files))
	}
	files, _ = s.ListFiles(ctx, "owner-links", "root")
	if len(files) != 0 {
		t.Errorf("expected no files left in root, got %d", len(files))
	}

	if err := s.DeleteShareLink(ctx, "other-file", "link-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting link under the wrong file, got %v", err)
	}
	if err := s.DeleteShareLink(ctx, f.ID, "link-1"); err != nil {
		t.Fatalf("DeleteShareLink failed: %v", err)
	}
	if _, err := s.GetShareLinkByToken(ctx, "token-aaaa"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected revoked token to be gone, got %v", err)
	}

	if err := s.DeleteFile(ctx, f.ID); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if _, err := s.GetShareLinkByToken(ctx, "token-bbbb"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected links to be removed with their file, got %v", err)
	}
	if _, err := s.GetFile(ctx, f.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

// TestConsumeShareLink tests the decrement-if-positive guard.
func TestConsumeShareLink(t *testing.T, ctx context.Context, s store.Store) {
	f := TestFile("file-consume", "owner-consume")
	if err := s.CreateFile(ctx, f); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	defer s.DeleteFile(ctx, f.ID)

	l := TestShareLink("link-consume", f.ID, "token-consume", 2)
	if err := s.AddShareLink(ctx, l); err != nil {
		t.Fatalf("AddShareLink failed: %v", err)
	}

	now := time.Now()
	for want := 1; want >= 0; want-- {
		got, err := s.ConsumeShareLink(ctx, l.ID, now)
		if err != nil {
			t.Fatalf("ConsumeShareLink failed: %v", err)
		}
		if got.RemainingDownloads != want {
			t.Errorf("expected %d remaining, got %d", want, got.RemainingDownloads)
		}
	}

	if _, err := s.ConsumeShareLink(ctx, l.ID, now); !errors.Is(err, store.ErrConditionFailed) {
		t.Errorf("expected ErrConditionFailed on exhausted link, got %v", err)
	}

	expired := TestShareLink("link-expired", f.ID, "token-expired", 5)
	expired.ExpiresAt = ms(now.Add(-time.Minute))
	if err := s.AddShareLink(ctx, expired); err != nil {
		t.Fatalf("AddShareLink failed: %v", err)
	}
	if _, err := s.ConsumeShareLink(ctx, expired.ID, now); !errors.Is(err, store.ErrConditionFailed) {
		t.Errorf("expected ErrConditionFailed on expired link, got %v", err)
	}
	got, _ := s.GetShareLinkByToken(ctx, expired.Token)
	if got.RemainingDownloads != 5 {
		t.Errorf("expired link must not be decremented, got %d", got.RemainingDownloads)
	}

	if _, err := s.ConsumeShareLink(ctx, "no-such-link", now); !errors.Is(err, store.ErrConditionFailed) {
		t.Errorf("expected ErrConditionFailed on missing link, got %v", err)
	}
}

// TestConcurrentConsume verifies that a single remaining download is handed out once.
func TestConcurrentConsume(t *testing.T, ctx context.Context, s store.Store) {
	f := TestFile("file-race", "owner-race")
	if err := s.CreateFile(ctx, f); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	defer s.DeleteFile(ctx, f.ID)

	l := TestShareLink("link-race", f.ID, "token-race", 1)
	if err := s.AddShareLink(ctx, l); err != nil {
		t.Fatalf("AddShareLink failed: %v", err)
	}

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.ConsumeShareLink(ctx, l.ID, time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, store.ErrConditionFailed):
				failures++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Errorf("expected exactly 1 successful consumption, got %d", successes)
	}
	if failures != workers-1 {
		t.Errorf("expected %d clean failures, got %d", workers-1, failures)
	}
}

// TestPurgeShareLinks tests removal of dead links.
func TestPurgeShareLinks(t *testing.T, ctx context.Context, s store.Store) {
	f := TestFile("file-purge", "owner-purge")
	if err := s.CreateFile(ctx, f); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	defer s.DeleteFile(ctx, f.ID)

	now := time.Now()
	live := TestShareLink("purge-live", f.ID, "token-purge-live", 2)
	expired := TestShareLink("purge-expired", f.ID, "token-purge-expired", 2)
	expired.ExpiresAt = ms(now.Add(-time.Second))
	exhausted := TestShareLink("purge-exhausted", f.ID, "token-purge-exhausted", 2)
	exhausted.RemainingDownloads = 0

	for _, l := range []*store.ShareLink{live, expired, exhausted} {
		if err := s.AddShareLink(ctx, l); err != nil {
			t.Fatalf("AddShareLink failed: %v", err)
		}
	}

	n, err := s.PurgeShareLinks(ctx, now)
	if err != nil {
		t.Fatalf("PurgeShareLinks failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 purged links, got %d", n)
	}

	got, _ := s.GetFile(ctx, f.ID)
	if len(got.ShareLinks) != 1 || got.ShareLinks[0].ID != live.ID {
		t.Errorf("expected only the live link to remain, got %+v", got.ShareLinks)
	}
}

// TestMessages tests chat persistence.
func TestMessages(t *testing.T, ctx context.Context, s store.MessageStore) {
	base := time.Now()
	msgs := []*store.Message{
		{ID: "msg-1", Sender: "chat-a", Receiver: "chat-b", Content: "hi", CreatedAt: ms(base)},
		{ID: "msg-2", Sender: "chat-b", Receiver: "chat-a", Content: "hello", CreatedAt: ms(base.Add(time.Second))},
		{ID: "msg-3", Sender: "chat-a", Receiver: "chat-b", Content: "how are you", CreatedAt: ms(base.Add(2 * time.Second))},
		{ID: "msg-4", Sender: "chat-c", Receiver: "chat-a", Content: "ping", CreatedAt: ms(base.Add(3 * time.Second))},
	}
	for _, m := range msgs {
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	conv, err := s.ListConversation(ctx, "chat-b", "chat-a")
	if err != nil {
		t.Fatalf("ListConversation failed: %v", err)
	}
	if len(conv) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(conv))
	}
	for i, want := range []string{"msg-1", "msg-2", "msg-3"} {
		if conv[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, conv[i].ID)
		}
	}

	all, err := s.ListMessages(ctx, "chat-a")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 messages for chat-a, got %d", len(all))
	}

	n, err := s.MarkRead(ctx, "chat-b", "chat-a")
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 messages marked read, got %d", n)
	}
	n, _ = s.MarkRead(ctx, "chat-b", "chat-a")
	if n != 0 {
		t.Errorf("expected nothing left to mark, got %d", n)
	}
}

// TestAudit tests the audit trail ordering and limit.
func TestAudit(t *testing.T, ctx context.Context, s store.AuditStore) {
	base := time.Now()
	for i, action := range []string{"file.upload", "share.issue", "share.resolve"} {
		e := &store.AuditEntry{
			ID:         "audit-" + action,
			Owner:      "owner-audit",
			Action:     action,
			TargetType: "file",
			TargetID:   "file-1",
			CreatedAt:  ms(base.Add(time.Duration(i) * time.Second)),
		}
		if err := s.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit failed: %v", err)
		}
	}

	entries, err := s.ListAudit(ctx, "owner-audit", 2)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != "share.resolve" || entries[1].Action != "share.issue" {
		t.Errorf("expected newest first, got %s, %s", entries[0].Action, entries[1].Action)
	}

	entries, _ = s.ListAudit(ctx, "owner-audit", 0)
	if len(entries) != 3 {
		t.Errorf("expected all 3 entries without limit, got %d", len(entries))
	}
}
