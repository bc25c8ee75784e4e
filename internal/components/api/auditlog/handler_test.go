// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package auditlog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api/auditlog"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/audit"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/http/auth"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/json"
)

func TestHandleList(t *testing.T) {
	s, err := store.New(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("store.Init: %v", err)
	}
	defer s.Close()

	rec := audit.NewRecorder(s, nil)
	ctx := context.Background()
	rec.Record(ctx, "alice", audit.ActionFileUpload, audit.TargetFile, "f1", "a.txt")
	rec.Record(ctx, "alice", audit.ActionShareIssue, audit.TargetShareLink, "l1", "")
	rec.Record(ctx, "bob", audit.ActionFileUpload, audit.TargetFile, "f2", "b.txt")

	h := auditlog.NewHandler(rec, auth.CurrentUser, nil)
	alice := &identity.User{ID: "alice", Username: "alice"}

	tests := []struct {
		name  string
		query string
		user  *identity.User
		code  int
		count int
	}{
		{"all", "", alice, http.StatusOK, 2},
		{"limited", "?limit=1", alice, http.StatusOK, 1},
		{"bad limit", "?limit=zero", alice, http.StatusBadRequest, 0},
		{"anonymous", "", nil, http.StatusUnauthorized, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/audit"+tt.query, nil)
			if tt.user != nil {
				req = req.WithContext(auth.WithUser(req.Context(), tt.user))
			}
			rr := httptest.NewRecorder()
			h.HandleList(rr, req)

			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rr.Code)
			}
			if tt.code != http.StatusOK {
				return
			}
			var resp map[string][]audit.Entry
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if len(resp["entries"]) != tt.count {
				t.Errorf("expected %d entries, got %d", tt.count, len(resp["entries"]))
			}
			if tt.count == 2 && resp["entries"][0].Action != audit.ActionShareIssue {
				t.Errorf("expected newest first, got %s", resp["entries"][0].Action)
			}
		})
	}
}
