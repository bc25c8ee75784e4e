// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package appctx

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func TestWithLogger_RoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ctx := WithLogger(context.Background(), logger)

	got, ok := LoggerFromContext(ctx)
	if !ok {
		t.Fatal("expected LoggerFromContext to report a logger")
	}
	if got != logger {
		t.Error("expected the attached logger instance")
	}
}

func TestLoggerFromContext_Missing(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
	}{
		{"empty context", context.Background()},
		{"nil logger stored", context.WithValue(context.Background(), loggerKey{}, (*slog.Logger)(nil))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LoggerFromContext(tt.ctx)
			if ok || got != nil {
				t.Errorf("expected (nil, false), got (%v, %v)", got, ok)
			}
		})
	}
}

func TestGetLogger_FallsBackToDefault(t *testing.T) {
	if got := GetLogger(context.Background()); got != slog.Default() {
		t.Error("expected slog.Default() when no logger is attached")
	}
}

func TestGetLogger_UsesAttachedLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))
	ctx := WithLogger(context.Background(), logger)

	GetLogger(ctx).Info("vault opened", "user_id", "u1")

	if !bytes.Contains(buf.Bytes(), []byte("vault opened")) {
		t.Errorf("expected message in output, got %q", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("user_id=u1")) {
		t.Errorf("expected attribute in output, got %q", buf.String())
	}
}

func TestClientIP(t *testing.T) {
	if got := ClientIP(context.Background()); got != "" {
		t.Errorf("expected empty client ip, got %q", got)
	}

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	if got := ClientIP(ctx); got != "203.0.113.7" {
		t.Errorf("expected 203.0.113.7, got %q", got)
	}
}
