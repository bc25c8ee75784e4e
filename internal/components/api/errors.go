// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package api provides common HTTP API utilities including error handling.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/apperr"
)

// Deterministic reason codes for stable error classification.
// These codes should remain stable across versions for client compatibility.
const (
	// Authentication and authorization
	ReasonUnauthenticated    = "unauthenticated"
	ReasonUnauthorized       = "unauthorized"
	ReasonSessionExpired     = "session_expired"
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonVaultLocked        = "vault_locked"

	// Rate limiting
	ReasonRateLimited = "rate_limited"

	// Request validation
	ReasonBadRequest       = "bad_request"
	ReasonMissingField     = "missing_field"
	ReasonInvalidField     = "invalid_field"
	ReasonValidationFailed = "validation_failed"
	ReasonInvalidPolicy    = "invalid_policy"
	ReasonTooLarge         = "too_large"
	ReasonNotFound         = "not_found"
	ReasonConflict         = "conflict"

	// Share links
	ReasonExpired   = "expired"
	ReasonExhausted = "exhausted"

	// Server errors
	ReasonInternalError = "internal_error"
)

// ErrorEnvelope is the standard error response format.
// All error responses should use this structure for consistency.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code         string   `json:"code"`        // HTTP status text (e.g., "Forbidden")
	ReasonCode   string   `json:"reason_code"` // Deterministic reason code
	Message      string   `json:"message"`     // Human-readable message
	Field        string   `json:"field,omitempty"`
	Deficiencies []string `json:"deficiencies,omitempty"`
}

// WriteError writes a standardized JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, reasonCode, message string) {
	writeEnvelope(w, statusCode, ErrorDetail{ReasonCode: reasonCode, Message: message})
}

func writeEnvelope(w http.ResponseWriter, statusCode int, detail ErrorDetail) {
	detail.Code = http.StatusText(statusCode)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorEnvelope{Error: detail})
}

// WriteServiceError maps an error returned by a vault component onto its
// HTTP status and reason code. Unknown errors become a generic 500 so that
// internals never reach the client.
func WriteServiceError(w http.ResponseWriter, err error) {
	var ve *apperr.ValidationError
	switch {
	case errors.As(err, &ve):
		writeEnvelope(w, http.StatusBadRequest, ErrorDetail{
			ReasonCode:   ReasonValidationFailed,
			Message:      ve.Error(),
			Field:        ve.Field,
			Deficiencies: ve.Deficiencies,
		})
	case errors.Is(err, apperr.ErrValidation):
		WriteError(w, http.StatusBadRequest, ReasonValidationFailed, err.Error())
	case errors.Is(err, apperr.ErrInvalidPolicy):
		WriteError(w, http.StatusBadRequest, ReasonInvalidPolicy, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		WriteNotFound(w, "resource not found")
	case errors.Is(err, apperr.ErrUnauthorized):
		WriteForbidden(w, ReasonUnauthorized, "not permitted for this resource")
	case errors.Is(err, apperr.ErrExpired):
		WriteError(w, http.StatusGone, ReasonExpired, "link has expired")
	case errors.Is(err, apperr.ErrExhausted):
		WriteError(w, http.StatusGone, ReasonExhausted, "link has no downloads left")
	case errors.Is(err, apperr.ErrConflict):
		WriteConflict(w, err.Error())
	default:
		WriteInternalError(w, "internal error")
	}
}

// WriteUnauthorized writes a 401 Unauthorized error.
func WriteUnauthorized(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusUnauthorized, reasonCode, message)
}

// WriteForbidden writes a 403 Forbidden error.
func WriteForbidden(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusForbidden, reasonCode, message)
}

// WriteLocked writes a 423 Locked error for a locked vault session.
func WriteLocked(w http.ResponseWriter) {
	WriteError(w, http.StatusLocked, ReasonVaultLocked, "vault is locked, unlock with your password")
}

// WriteNotFound writes a 404 Not Found error.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ReasonNotFound, message)
}

// WriteBadRequest writes a 400 Bad Request error.
func WriteBadRequest(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusBadRequest, reasonCode, message)
}

// WriteConflict writes a 409 Conflict error.
func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, ReasonConflict, message)
}

// WriteTooManyRequests writes a 429 Too Many Requests error.
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, ReasonRateLimited, message)
}

// WriteInternalError writes a 500 Internal Server Error.
// Be careful not to leak sensitive information in the message.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ReasonInternalError, message)
}

// IsInternal reports whether WriteServiceError answers err with a 500.
func IsInternal(err error) bool {
	_, ok := apperr.Public(err)
	return !ok
}
