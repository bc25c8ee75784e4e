// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package files

import (
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

// Link states derived at read time.
const (
	LinkActive    = "active"
	LinkExpired   = "expired"
	LinkExhausted = "exhausted"
)

// Linker turns a share token into its public URL.
type Linker func(token string) string

// File is the owner's view of an uploaded file.
type File struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	MimeType   string      `json:"mime_type"`
	SizeBytes  int64       `json:"size_bytes"`
	FolderID   string      `json:"folder_id"`
	ShareLinks []ShareLink `json:"share_links"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// ShareLink is the owner's view of a link. The password hash never leaves the store.
type ShareLink struct {
	ID                 string    `json:"id"`
	Token              string    `json:"token"`
	URL                string    `json:"url"`
	Recipients         []string  `json:"recipients"`
	Team               string    `json:"team,omitempty"`
	Permission         string    `json:"permission"`
	ExpiresAt          time.Time `json:"expires_at"`
	PasswordProtected  bool      `json:"password_protected"`
	DownloadLimit      int       `json:"download_limit"`
	RemainingDownloads int       `json:"remaining_downloads"`
	State              string    `json:"state"`
	CreatedAt          time.Time `json:"created_at"`
}

// Folder is the owner's view of a folder.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ToView converts a stored file. link may be nil, leaving URLs empty.
func ToView(rec *store.File, link Linker, now time.Time) *File {
	f := &File{
		ID:         rec.ID,
		Name:       rec.Name,
		MimeType:   rec.MimeType,
		SizeBytes:  rec.SizeBytes,
		FolderID:   rec.FolderID,
		ShareLinks: make([]ShareLink, 0, len(rec.ShareLinks)),
		CreatedAt:  time.UnixMilli(rec.CreatedAt),
		UpdatedAt:  time.UnixMilli(rec.UpdatedAt),
	}
	for i := range rec.ShareLinks {
		f.ShareLinks = append(f.ShareLinks, LinkView(&rec.ShareLinks[i], link, now))
	}
	return f
}

// LinkView converts a stored link.
func LinkView(l *store.ShareLink, link Linker, now time.Time) ShareLink {
	v := ShareLink{
		ID:                 l.ID,
		Token:              l.Token,
		Recipients:         l.Recipients,
		Team:               l.Team,
		Permission:         l.Permission,
		ExpiresAt:          time.UnixMilli(l.ExpiresAt),
		PasswordProtected:  l.PasswordProtected,
		DownloadLimit:      l.DownloadLimit,
		RemainingDownloads: l.RemainingDownloads,
		State:              LinkState(l, now),
		CreatedAt:          time.UnixMilli(l.CreatedAt),
	}
	if v.Recipients == nil {
		v.Recipients = []string{}
	}
	if link != nil {
		v.URL = link(l.Token)
	}
	return v
}

// LinkState reports a link's lifecycle state at now. Expiry wins over exhaustion.
func LinkState(l *store.ShareLink, now time.Time) string {
	switch {
	case now.UnixMilli() >= l.ExpiresAt:
		return LinkExpired
	case l.RemainingDownloads <= 0:
		return LinkExhausted
	}
	return LinkActive
}

func folderView(rec *store.Folder) *Folder {
	return &Folder{
		ID:        rec.ID,
		Name:      rec.Name,
		ParentID:  rec.ParentID,
		CreatedAt: time.UnixMilli(rec.CreatedAt),
	}
}
