// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/audit"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/appctx"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

type fakeStore struct {
	entries []*store.AuditEntry
	fail    bool
}

func (f *fakeStore) AppendAudit(ctx context.Context, e *store.AuditEntry) error {
	if f.fail {
		return errors.New("store unavailable")
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeStore) ListAudit(ctx context.Context, owner string, limit int) ([]*store.AuditEntry, error) {
	var out []*store.AuditEntry
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].Owner == owner {
			out = append(out, f.entries[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestRecorder_RecordAndList(t *testing.T) {
	fs := &fakeStore{}
	r := audit.NewRecorder(fs, nil)
	ctx := appctx.WithClientIP(context.Background(), "203.0.113.7")

	r.Record(ctx, "alice", audit.ActionFileUpload, audit.TargetFile, "f1", "report.pdf")
	time.Sleep(time.Millisecond)
	r.Record(ctx, "alice", audit.ActionShareIssue, audit.TargetShareLink, "l1", "")
	r.Record(ctx, "bob", audit.ActionFileDelete, audit.TargetFile, "f2", "")

	entries, err := r.List(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != audit.ActionShareIssue {
		t.Errorf("expected newest first, got %q", entries[0].Action)
	}
	if entries[1].ClientIP != "203.0.113.7" {
		t.Errorf("expected client IP from context, got %q", entries[1].ClientIP)
	}
	if entries[1].ID == "" || entries[1].CreatedAt.IsZero() {
		t.Error("entry should carry an ID and timestamp")
	}

	limited, _ := r.List(ctx, "alice", 1)
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}
}

func TestRecorder_FailureIsSwallowed(t *testing.T) {
	r := audit.NewRecorder(&fakeStore{fail: true}, nil)
	r.Record(context.Background(), "alice", audit.ActionFileDelete, audit.TargetFile, "f1", "")

	var nilRecorder *audit.Recorder
	nilRecorder.Record(context.Background(), "alice", audit.ActionFileDelete, audit.TargetFile, "f1", "")
}
