// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package apperr defines the error kinds shared by the vault components.
// Handlers translate them into HTTP responses with api.WriteServiceError.
package apperr

import (
	"errors"
	"strings"
)

var (
	ErrInvalidPolicy = errors.New("invalid generator policy")
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("not the resource owner")
	ErrExpired       = errors.New("link expired")
	ErrExhausted     = errors.New("link exhausted")
	ErrConflict      = errors.New("conflict")
)

// ValidationError describes a rejected field. Deficiencies carries the unmet
// strength requirements when a secret was rejected for being weak.
type ValidationError struct {
	Field        string
	Message      string
	Deficiencies []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Field)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Deficiencies) > 0 {
		b.WriteString(" (missing: ")
		b.WriteString(strings.Join(e.Deficiencies, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// Is lets errors.Is(err, ErrValidation) match any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid is shorthand for a ValidationError without deficiencies.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

var kinds = []error{
	ErrInvalidPolicy,
	ErrValidation,
	ErrNotFound,
	ErrUnauthorized,
	ErrExpired,
	ErrExhausted,
	ErrConflict,
}

// Public returns a message for err that is safe to show a client. ok is false
// when err is not one of the kinds above; its text must then stay in the logs.
func Public(err error) (msg string, ok bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error(), true
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind.Error(), true
		}
	}
	return "", false
}
