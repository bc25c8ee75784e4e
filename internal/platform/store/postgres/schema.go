// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package postgres

// Timestamps are unix milliseconds, matching the other drivers.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL DEFAULT '',
	display_name  TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'user',
	created_at    BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users (email);

CREATE TABLE IF NOT EXISTS credentials (
	id            TEXT PRIMARY KEY,
	owner         TEXT NOT NULL,
	website       TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	username      TEXT NOT NULL DEFAULT '',
	secret        TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	notes         TEXT NOT NULL DEFAULT '',
	strength_tier TEXT NOT NULL DEFAULT '',
	fingerprint   TEXT NOT NULL DEFAULT '',
	created_at    BIGINT NOT NULL,
	updated_at    BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials (owner);

CREATE TABLE IF NOT EXISTS folders (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	name       TEXT NOT NULL,
	parent_id  TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_folders_owner ON folders (owner);
CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders (parent_id);

CREATE TABLE IF NOT EXISTS files (
	id          TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	name        TEXT NOT NULL,
	storage_ref TEXT NOT NULL,
	mime_type   TEXT NOT NULL DEFAULT '',
	size_bytes  BIGINT NOT NULL DEFAULT 0,
	folder_id   TEXT NOT NULL DEFAULT '',
	created_at  BIGINT NOT NULL,
	updated_at  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_owner_folder ON files (owner, folder_id);

CREATE TABLE IF NOT EXISTS share_links (
	id                  TEXT PRIMARY KEY,
	file_id             TEXT NOT NULL REFERENCES files (id) ON DELETE CASCADE,
	token               TEXT NOT NULL UNIQUE,
	recipients          TEXT[] NOT NULL DEFAULT '{}',
	team                TEXT NOT NULL DEFAULT '',
	permission          TEXT NOT NULL,
	expires_at          BIGINT NOT NULL,
	password_protected  BOOLEAN NOT NULL DEFAULT FALSE,
	password_hash       TEXT NOT NULL DEFAULT '',
	download_limit      INTEGER NOT NULL CHECK (download_limit >= 1),
	remaining_downloads INTEGER NOT NULL CHECK (remaining_downloads >= 0 AND remaining_downloads <= download_limit),
	created_at          BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_share_links_file ON share_links (file_id);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	sender     TEXT NOT NULL,
	receiver   TEXT NOT NULL,
	content    TEXT NOT NULL,
	read       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (sender, receiver);

CREATE TABLE IF NOT EXISTS audit_entries (
	id          TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	action      TEXT NOT NULL,
	target_type TEXT NOT NULL DEFAULT '',
	target_id   TEXT NOT NULL DEFAULT '',
	details     TEXT NOT NULL DEFAULT '',
	client_ip   TEXT NOT NULL DEFAULT '',
	created_at  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_owner_created ON audit_entries (owner, created_at DESC);
`

// tables lists every table in drop order.
var tables = []string{"share_links", "files", "folders", "credentials", "messages", "audit_entries", "users"}
