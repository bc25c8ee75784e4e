// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package store

import "time"

// Timestamps are unix milliseconds.

// User is a persisted account.
type User struct {
	ID           string `json:"id" gorm:"primaryKey"`
	Username     string `json:"username" gorm:"uniqueIndex;not null"`
	Email        string `json:"email" gorm:"index"`
	DisplayName  string `json:"display_name"`
	PasswordHash string `json:"password_hash"`
	Role         string `json:"role"`
	CreatedAt    int64  `json:"created_at" gorm:"autoCreateTime:milli"`
}

// Credential is a password vault entry. Fingerprint is a keyed hash of Secret
// used to detect reuse without comparing plaintexts.
type Credential struct {
	ID           string `json:"id" gorm:"primaryKey"`
	Owner        string `json:"owner" gorm:"index;not null"`
	Website      string `json:"website"`
	URL          string `json:"url"`
	Username     string `json:"username"`
	Secret       string `json:"secret"`
	Category     string `json:"category"`
	Notes        string `json:"notes"`
	StrengthTier string `json:"strength_tier"`
	Fingerprint  string `json:"fingerprint" gorm:"index"`
	CreatedAt    int64  `json:"created_at" gorm:"autoCreateTime:milli"`
	UpdatedAt    int64  `json:"updated_at" gorm:"autoUpdateTime:milli"`
}

// Folder groups files. ParentID "" is the owner's root.
type Folder struct {
	ID        string `json:"id" gorm:"primaryKey"`
	Owner     string `json:"owner" gorm:"index;not null"`
	Name      string `json:"name"`
	ParentID  string `json:"parent_id" gorm:"index"`
	CreatedAt int64  `json:"created_at" gorm:"autoCreateTime:milli"`
}

// File is uploaded content metadata. It exclusively owns its share links.
type File struct {
	ID         string      `json:"id" gorm:"primaryKey"`
	Owner      string      `json:"owner" gorm:"index;not null"`
	Name       string      `json:"name"`
	StorageRef string      `json:"storage_ref"`
	MimeType   string      `json:"mime_type"`
	SizeBytes  int64       `json:"size_bytes"`
	FolderID   string      `json:"folder_id" gorm:"index"`
	ShareLinks []ShareLink `json:"share_links" gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE"`
	CreatedAt  int64       `json:"created_at" gorm:"autoCreateTime:milli"`
	UpdatedAt  int64       `json:"updated_at" gorm:"autoUpdateTime:milli"`
}

// ShareLink is a revocable, expiring, download-limited access token for a file.
type ShareLink struct {
	ID                 string   `json:"id" gorm:"primaryKey"`
	FileID             string   `json:"file_id" gorm:"index;not null"`
	Token              string   `json:"token" gorm:"uniqueIndex;not null"`
	Recipients         []string `json:"recipients" gorm:"serializer:json"`
	Team               string   `json:"team"`
	Permission         string   `json:"permission"`
	ExpiresAt          int64    `json:"expires_at" gorm:"index"`
	PasswordProtected  bool     `json:"password_protected"`
	PasswordHash       string   `json:"password_hash"`
	DownloadLimit      int      `json:"download_limit"`
	RemainingDownloads int      `json:"remaining_downloads"`
	CreatedAt          int64    `json:"created_at" gorm:"autoCreateTime:milli"`
}

// Live reports whether the link is unexpired and has downloads left at now.
func (l *ShareLink) Live(now time.Time) bool {
	return l.RemainingDownloads > 0 && now.UnixMilli() < l.ExpiresAt
}

// Message is a direct chat message.
type Message struct {
	ID        string `json:"id" gorm:"primaryKey"`
	Sender    string `json:"sender" gorm:"index;not null"`
	Receiver  string `json:"receiver" gorm:"index;not null"`
	Content   string `json:"content"`
	Read      bool   `json:"read"`
	CreatedAt int64  `json:"created_at" gorm:"index;autoCreateTime:milli"`
}

// AuditEntry records a security relevant action.
type AuditEntry struct {
	ID         string `json:"id" gorm:"primaryKey"`
	Owner      string `json:"owner" gorm:"index;not null"`
	Action     string `json:"action"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Details    string `json:"details"`
	ClientIP   string `json:"client_ip"`
	CreatedAt  int64  `json:"created_at" gorm:"index;autoCreateTime:milli"`
}
