// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package sharelink

import (
	"context"
	"log/slog"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

// Sweeper periodically deletes links that can no longer be resolved.
// Resolution never depends on it; expiry is always checked at request time.
type Sweeper struct {
	store    store.LinkStore
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper. An interval <= 0 makes Run return immediately.
func NewSweeper(s store.LinkStore, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{store: s, interval: interval, log: logutil.NoopIfNil(log), now: time.Now}
}

// Run sweeps every interval until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("share link sweeper started", "interval", w.interval.String())
	for {
		select {
		case <-ticker.C:
			w.SweepOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce deletes dead links and returns how many were removed.
func (w *Sweeper) SweepOnce(ctx context.Context) int {
	n, err := w.store.PurgeShareLinks(ctx, w.now())
	if err != nil {
		w.log.Warn("share link sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		w.log.Info("swept dead share links", "count", n)
	}
	return n
}
