// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package identity

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

// StorePartyRepo persists users through the configured store driver.
type StorePartyRepo struct {
	users store.UserStore
}

// NewStorePartyRepo wraps a store.UserStore as a PartyRepo.
func NewStorePartyRepo(users store.UserStore) *StorePartyRepo {
	return &StorePartyRepo{users: users}
}

func toRecord(u *User) *store.User {
	return &store.User{
		ID:           u.ID,
		Username:     u.Username,
		Email:        normalizeEmail(u.Email),
		DisplayName:  u.DisplayName,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		CreatedAt:    u.CreatedAt.UnixMilli(),
	}
}

func fromRecord(r *store.User) *User {
	return &User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		DisplayName:  r.DisplayName,
		PasswordHash: r.PasswordHash,
		Role:         r.Role,
		CreatedAt:    time.UnixMilli(r.CreatedAt),
	}
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return ErrUserExists
	}
	return err
}

func (r *StorePartyRepo) Create(ctx context.Context, user *User) error {
	if norm := normalizeEmail(user.Email); norm != "" {
		if _, err := r.users.GetUserByEmail(ctx, norm); err == nil {
			return ErrEmailExists
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	if user.ID == "" {
		user.ID = NewID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	return mapStoreErr(r.users.CreateUser(ctx, toRecord(user)))
}

func (r *StorePartyRepo) Get(ctx context.Context, id string) (*User, error) {
	rec, err := r.users.GetUser(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return fromRecord(rec), nil
}

func (r *StorePartyRepo) GetByUsername(ctx context.Context, username string) (*User, error) {
	rec, err := r.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return fromRecord(rec), nil
}

func (r *StorePartyRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	norm := normalizeEmail(email)
	if norm == "" {
		return nil, ErrUserNotFound
	}
	rec, err := r.users.GetUserByEmail(ctx, norm)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return fromRecord(rec), nil
}

func (r *StorePartyRepo) Update(ctx context.Context, user *User) error {
	existing, err := r.Get(ctx, user.ID)
	if err != nil {
		return err
	}
	if err := checkRoleChange(existing, user); err != nil {
		return err
	}
	if norm := normalizeEmail(user.Email); norm != "" && norm != normalizeEmail(existing.Email) {
		if other, err := r.users.GetUserByEmail(ctx, norm); err == nil && other.ID != user.ID {
			return ErrEmailExists
		}
	}
	rec := toRecord(user)
	rec.CreatedAt = existing.CreatedAt.UnixMilli()
	return mapStoreErr(r.users.UpdateUser(ctx, rec))
}

func (r *StorePartyRepo) Delete(ctx context.Context, id string) error {
	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSuperAdmin() {
		return ErrSuperAdminProtected
	}
	return mapStoreErr(r.users.DeleteUser(ctx, id))
}

func (r *StorePartyRepo) List(ctx context.Context) ([]*User, error) {
	recs, err := r.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*User, 0, len(recs))
	for _, rec := range recs {
		result = append(result, fromRecord(rec))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

var _ PartyRepo = (*StorePartyRepo)(nil)
