// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package credentials implements the password vault.
package credentials

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/apperr"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/audit"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/strength"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

// DefaultCategory is assigned when a credential is saved without one.
const DefaultCategory = "Other"

// Credential is a vault entry as seen by its owner.
type Credential struct {
	ID           string    `json:"id"`
	Website      string    `json:"website"`
	URL          string    `json:"url,omitempty"`
	Username     string    `json:"username"`
	Secret       string    `json:"secret"`
	Category     string    `json:"category"`
	Notes        string    `json:"notes,omitempty"`
	StrengthTier string    `json:"strength_tier"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Input carries the fields of a new credential.
type Input struct {
	Website  string
	URL      string
	Username string
	Secret   string
	Category string
	Notes    string
}

// Patch updates only the non-nil fields.
type Patch struct {
	Website  *string
	URL      *string
	Username *string
	Secret   *string
	Category *string
	Notes    *string
}

// Service owns credential persistence and validation.
type Service struct {
	store store.CredentialStore
	key   []byte
	audit *audit.Recorder
	log   *slog.Logger
	now   func() time.Time
}

// NewService creates the vault service. fingerprintKey keys the HMAC used to
// detect reused secrets; it must stay stable across restarts.
func NewService(s store.CredentialStore, fingerprintKey []byte, rec *audit.Recorder, log *slog.Logger) (*Service, error) {
	if len(fingerprintKey) < 16 {
		return nil, errors.New("credential fingerprint key must be at least 16 bytes")
	}
	return &Service{
		store: s,
		key:   fingerprintKey,
		audit: rec,
		log:   logutil.NoopIfNil(log),
		now:   time.Now,
	}, nil
}

func (s *Service) fingerprint(secret string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// Create validates and stores a new credential owned by owner.
func (s *Service) Create(ctx context.Context, owner string, in Input) (*Credential, error) {
	rec := &store.Credential{
		ID:       identity.NewID(),
		Owner:    owner,
		Website:  strings.TrimSpace(in.Website),
		URL:      strings.TrimSpace(in.URL),
		Username: strings.TrimSpace(in.Username),
		Secret:   in.Secret,
		Category: strings.TrimSpace(in.Category),
		Notes:    in.Notes,
	}
	if err := s.prepare(rec); err != nil {
		return nil, err
	}
	now := s.now().UnixMilli()
	rec.CreatedAt, rec.UpdatedAt = now, now

	if err := s.store.CreateCredential(ctx, rec); err != nil {
		return nil, fmt.Errorf("create credential: %w", err)
	}
	s.audit.Record(ctx, owner, audit.ActionCredentialCreate, audit.TargetCredential, rec.ID, rec.Website)
	return toView(rec), nil
}

// Get returns a credential owned by actor.
func (s *Service) Get(ctx context.Context, actor, id string) (*Credential, error) {
	rec, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return toView(rec), nil
}

// Update applies p to a credential owned by actor. The strength tier and
// fingerprint are recomputed whenever the secret changes.
func (s *Service) Update(ctx context.Context, actor, id string, p Patch) (*Credential, error) {
	rec, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if p.Website != nil {
		rec.Website = strings.TrimSpace(*p.Website)
	}
	if p.URL != nil {
		rec.URL = strings.TrimSpace(*p.URL)
	}
	if p.Username != nil {
		rec.Username = strings.TrimSpace(*p.Username)
	}
	if p.Secret != nil {
		rec.Secret = *p.Secret
	}
	if p.Category != nil {
		rec.Category = strings.TrimSpace(*p.Category)
	}
	if p.Notes != nil {
		rec.Notes = *p.Notes
	}
	if err := s.prepare(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = s.now().UnixMilli()

	if err := s.store.UpdateCredential(ctx, rec); err != nil {
		return nil, fmt.Errorf("update credential: %w", err)
	}
	s.audit.Record(ctx, actor, audit.ActionCredentialUpdate, audit.TargetCredential, rec.ID, rec.Website)
	return toView(rec), nil
}

// Delete removes a credential owned by actor.
func (s *Service) Delete(ctx context.Context, actor, id string) error {
	rec, err := s.owned(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCredential(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrNotFound
		}
		return fmt.Errorf("delete credential: %w", err)
	}
	s.audit.Record(ctx, actor, audit.ActionCredentialDelete, audit.TargetCredential, id, rec.Website)
	return nil
}

// prepare validates rec and fills the derived fields.
func (s *Service) prepare(rec *store.Credential) error {
	switch {
	case rec.Website == "":
		return apperr.Invalid("website", "website is required")
	case rec.Username == "":
		return apperr.Invalid("username", "username is required")
	case rec.Secret == "":
		return apperr.Invalid("secret", "secret is required")
	}

	res := strength.Evaluate(rec.Secret)
	if !res.Acceptable() {
		return &apperr.ValidationError{
			Field:        "secret",
			Message:      "password is too weak",
			Deficiencies: res.Deficiencies,
		}
	}
	if rec.Category == "" {
		rec.Category = DefaultCategory
	}
	rec.StrengthTier = string(res.Tier)
	rec.Fingerprint = s.fingerprint(rec.Secret)
	return nil
}

// owned loads a credential and checks that actor owns it.
func (s *Service) owned(ctx context.Context, actor, id string) (*store.Credential, error) {
	rec, err := s.store.GetCredential(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	if rec.Owner != actor {
		return nil, apperr.ErrUnauthorized
	}
	return rec, nil
}

func toView(rec *store.Credential) *Credential {
	return &Credential{
		ID:           rec.ID,
		Website:      rec.Website,
		URL:          rec.URL,
		Username:     rec.Username,
		Secret:       rec.Secret,
		Category:     rec.Category,
		Notes:        rec.Notes,
		StrengthTier: rec.StrengthTier,
		CreatedAt:    time.UnixMilli(rec.CreatedAt),
		UpdatedAt:    time.UnixMilli(rec.UpdatedAt),
	}
}
