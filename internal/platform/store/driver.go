// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package store provides persistence primitives and driver abstractions.
package store

import (
	"context"
	"errors"
	"time"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("store closed")

	// ErrConditionFailed is returned by conditional updates whose guard did not hold.
	ErrConditionFailed = errors.New("condition not met")
)

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init initializes the driver (create tables, load data, etc).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (json, sqlite, postgres).
	Name() string
}

// Store is the full persistence surface every driver provides.
type Store interface {
	Driver
	UserStore
	CredentialStore
	FolderStore
	FileStore
	LinkStore
	MessageStore
	AuditStore
}

// UserStore persists accounts. Usernames are unique.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	// GetUserByEmail expects an already normalized address.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]*User, error)
}

// CredentialStore persists password vault entries.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *Credential) error
	GetCredential(ctx context.Context, id string) (*Credential, error)
	UpdateCredential(ctx context.Context, c *Credential) error
	DeleteCredential(ctx context.Context, id string) error
	ListCredentials(ctx context.Context, owner string) ([]*Credential, error)
}

// FolderStore persists folders.
type FolderStore interface {
	CreateFolder(ctx context.Context, f *Folder) error
	GetFolder(ctx context.Context, id string) (*Folder, error)
	UpdateFolder(ctx context.Context, f *Folder) error
	DeleteFolder(ctx context.Context, id string) error
	ListFolders(ctx context.Context, owner string) ([]*Folder, error)
	// CountFolderEntries returns the number of files and subfolders directly inside a folder.
	CountFolderEntries(ctx context.Context, folderID string) (int, error)
}

// FileStore persists file metadata. GetFile returns the file with its share links.
type FileStore interface {
	CreateFile(ctx context.Context, f *File) error
	GetFile(ctx context.Context, id string) (*File, error)
	// UpdateFile writes file metadata only. Share links are changed through LinkStore.
	UpdateFile(ctx context.Context, f *File) error
	// DeleteFile removes the file together with its share links.
	DeleteFile(ctx context.Context, id string) error
	// ListFiles returns the owner's files; an empty folderID matches every folder.
	ListFiles(ctx context.Context, owner, folderID string) ([]*File, error)
}

// LinkStore persists share links. Links only exist under a file.
type LinkStore interface {
	// AddShareLink appends a link to its file. Returns ErrNotFound if the file is missing.
	AddShareLink(ctx context.Context, l *ShareLink) error
	GetShareLinkByToken(ctx context.Context, token string) (*ShareLink, error)
	// DeleteShareLink removes a link from a file. Returns ErrNotFound if no such link is under that file.
	DeleteShareLink(ctx context.Context, fileID, linkID string) error
	// ConsumeShareLink atomically decrements RemainingDownloads when it is positive
	// and the link has not expired at now. Returns ErrConditionFailed otherwise.
	ConsumeShareLink(ctx context.Context, linkID string, now time.Time) (*ShareLink, error)
	// PurgeShareLinks deletes links that are expired or exhausted at now.
	PurgeShareLinks(ctx context.Context, now time.Time) (int, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *Message) error
	// ListMessages returns every message sent or received by userID, oldest first.
	ListMessages(ctx context.Context, userID string) ([]*Message, error)
	// ListConversation returns the messages between two users, oldest first.
	ListConversation(ctx context.Context, userA, userB string) ([]*Message, error)
	// MarkRead flags every unread message from sender to receiver as read.
	MarkRead(ctx context.Context, receiver, sender string) (int, error)
}

// AuditStore persists the audit trail.
type AuditStore interface {
	AppendAudit(ctx context.Context, e *AuditEntry) error
	// ListAudit returns the owner's entries, newest first. limit <= 0 means no limit.
	ListAudit(ctx context.Context, owner string, limit int) ([]*AuditEntry, error)
}
