// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package audit records security relevant actions per owner.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/appctx"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

// Actions.
const (
	ActionFileUpload       = "file.upload"
	ActionFileDelete       = "file.delete"
	ActionShareIssue       = "share.issue"
	ActionShareRevoke      = "share.revoke"
	ActionShareResolve     = "share.resolve"
	ActionCredentialCreate = "credential.create"
	ActionCredentialUpdate = "credential.update"
	ActionCredentialDelete = "credential.delete"
)

// Target types.
const (
	TargetFile       = "file"
	TargetShareLink  = "share_link"
	TargetCredential = "credential"
)

// DefaultListLimit applies when List is called with limit <= 0.
const DefaultListLimit = 100

// Entry is an audit record as returned to its owner.
type Entry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	Details    string    `json:"details,omitempty"`
	ClientIP   string    `json:"client_ip,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recorder writes and reads the audit trail.
type Recorder struct {
	store store.AuditStore
	log   *slog.Logger
	now   func() time.Time
}

// NewRecorder creates a Recorder on top of an audit store.
func NewRecorder(s store.AuditStore, log *slog.Logger) *Recorder {
	return &Recorder{store: s, log: logutil.NoopIfNil(log), now: time.Now}
}

// Record appends an entry. Failures are logged and never returned, so an
// audit outage cannot fail the action being audited.
func (r *Recorder) Record(ctx context.Context, owner, action, targetType, targetID, details string) {
	if r == nil {
		return
	}
	e := &store.AuditEntry{
		ID:         identity.NewID(),
		Owner:      owner,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		ClientIP:   appctx.ClientIP(ctx),
		CreatedAt:  r.now().UnixMilli(),
	}
	if err := r.store.AppendAudit(ctx, e); err != nil {
		appctx.GetLogger(ctx).Error("audit record failed",
			"action", action, "target_id", targetID, "error", err)
		return
	}
	r.log.Debug("audit", "owner", owner, "action", action, "target_id", targetID)
}

// List returns the owner's entries, newest first.
func (r *Recorder) List(ctx context.Context, owner string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	recs, err := r.store.ListAudit(ctx, owner, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Entry{
			ID:         rec.ID,
			Action:     rec.Action,
			TargetType: rec.TargetType,
			TargetID:   rec.TargetID,
			Details:    rec.Details,
			ClientIP:   rec.ClientIP,
			CreatedAt:  time.UnixMilli(rec.CreatedAt),
		})
	}
	return out, nil
}
