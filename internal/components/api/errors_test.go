// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package api_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/apperr"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) api.ErrorEnvelope {
	t.Helper()
	var envelope api.ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return envelope
}

func TestWriteError_EnvelopeShape(t *testing.T) {
	w := httptest.NewRecorder()

	api.WriteError(w, http.StatusForbidden, api.ReasonUnauthorized, "not yours")

	if w.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	envelope := decodeEnvelope(t, w)
	if envelope.Error.Code != "Forbidden" {
		t.Errorf("expected code 'Forbidden', got %q", envelope.Error.Code)
	}
	if envelope.Error.ReasonCode != api.ReasonUnauthorized {
		t.Errorf("expected reason_code %q, got %q", api.ReasonUnauthorized, envelope.Error.ReasonCode)
	}
	if envelope.Error.Message != "not yours" {
		t.Errorf("unexpected message: %q", envelope.Error.Message)
	}
}

func TestWriteError_StableReasonCodes(t *testing.T) {
	codes := map[string]string{
		"unauthenticated":   api.ReasonUnauthenticated,
		"vault_locked":      api.ReasonVaultLocked,
		"rate_limited":      api.ReasonRateLimited,
		"validation_failed": api.ReasonValidationFailed,
		"invalid_policy":    api.ReasonInvalidPolicy,
		"expired":           api.ReasonExpired,
		"exhausted":         api.ReasonExhausted,
		"not_found":         api.ReasonNotFound,
		"internal_error":    api.ReasonInternalError,
	}

	for expected, actual := range codes {
		if actual != expected {
			t.Errorf("reason code constant changed: expected %q, got %q", expected, actual)
		}
	}
}

func TestWriteServiceError_Mapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"not found", fmt.Errorf("file f1: %w", apperr.ErrNotFound), http.StatusNotFound, api.ReasonNotFound},
		{"unauthorized", apperr.ErrUnauthorized, http.StatusForbidden, api.ReasonUnauthorized},
		{"expired", apperr.ErrExpired, http.StatusGone, api.ReasonExpired},
		{"exhausted", apperr.ErrExhausted, http.StatusGone, api.ReasonExhausted},
		{"validation", apperr.Invalid("website", "is required"), http.StatusBadRequest, api.ReasonValidationFailed},
		{"invalid policy", fmt.Errorf("%w: length 4", apperr.ErrInvalidPolicy), http.StatusBadRequest, api.ReasonInvalidPolicy},
		{"conflict", apperr.ErrConflict, http.StatusConflict, api.ReasonConflict},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, api.ReasonInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			api.WriteServiceError(w, tt.err)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			envelope := decodeEnvelope(t, w)
			if envelope.Error.ReasonCode != tt.reason {
				t.Errorf("reason_code = %q, want %q", envelope.Error.ReasonCode, tt.reason)
			}
			if strings.Contains(envelope.Error.Message, "disk on fire") {
				t.Error("internal error text leaked to the client")
			}
		})
	}
}

func TestWriteServiceError_Deficiencies(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteServiceError(w, &apperr.ValidationError{
		Field:        "secret",
		Message:      "password is too weak",
		Deficiencies: []string{"uppercase letters", "numbers"},
	})

	envelope := decodeEnvelope(t, w)
	if envelope.Error.Field != "secret" {
		t.Errorf("field = %q, want secret", envelope.Error.Field)
	}
	if len(envelope.Error.Deficiencies) != 2 || envelope.Error.Deficiencies[0] != "uppercase letters" {
		t.Errorf("unexpected deficiencies %v", envelope.Error.Deficiencies)
	}
}

func TestWriteLocked(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteLocked(w)

	if w.Code != http.StatusLocked {
		t.Errorf("expected status 423, got %d", w.Code)
	}
	if envelope := decodeEnvelope(t, w); envelope.Error.ReasonCode != api.ReasonVaultLocked {
		t.Errorf("expected reason_code %q, got %q", api.ReasonVaultLocked, envelope.Error.ReasonCode)
	}
}

type createRequest struct {
	Website    string `json:"website" validate:"required"`
	Permission string `json:"permission" validate:"omitempty,oneof=view download edit"`
	Limit      int    `json:"limit" validate:"omitempty,min=1"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		ok      bool
		reason  string
		message string
	}{
		{"valid", `{"website":"example.com","permission":"view"}`, true, "", ""},
		{"malformed", `{"website":`, false, api.ReasonBadRequest, "invalid JSON body"},
		{"missing", `{"permission":"view"}`, false, api.ReasonMissingField, "website is required"},
		{"bad enum", `{"website":"x","permission":"own"}`, false, api.ReasonInvalidField, "permission must be one of: view download edit"},
		{"bad min", `{"website":"x","limit":-1}`, false, api.ReasonInvalidField, "limit must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			var req createRequest
			ok := api.DecodeJSON(w, r, &req)
			if ok != tt.ok {
				t.Fatalf("DecodeJSON() = %v, want %v (%s)", ok, tt.ok, w.Body.String())
			}
			if ok {
				return
			}
			envelope := decodeEnvelope(t, w)
			if envelope.Error.ReasonCode != tt.reason || envelope.Error.Message != tt.message {
				t.Errorf("got %q/%q, want %q/%q", envelope.Error.ReasonCode, envelope.Error.Message, tt.reason, tt.message)
			}
		})
	}
}
