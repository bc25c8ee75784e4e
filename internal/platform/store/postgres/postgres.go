// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package postgres implements a PostgreSQL persistence driver on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

func init() {
	store.Register("postgres", NewDriver)
}

const uniqueViolation = "23505"

// Driver implements store.Store on a pgx connection pool.
type Driver struct {
	dsn  string
	pool *pgxpool.Pool
}

// NewDriver creates a new PostgreSQL driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required for postgres driver")
	}
	return &Driver{dsn: cfg.DSN}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "postgres"
}

// Init connects and creates the schema.
func (d *Driver) Init(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, d.dsn)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	d.pool = pool
	return nil
}

// Close closes the pool.
func (d *Driver) Close() error {
	if d.pool != nil {
		d.pool.Close()
	}
	return nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrAlreadyExists
	}
	return err
}

// exec runs a mutation and maps zero affected rows to store.ErrNotFound.
func (d *Driver) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := d.pool.Exec(ctx, sql, args...)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UserStore implementation

const userColumns = `id, username, email, display_name, password_hash, role, created_at`

func scanUser(row pgx.Row) (*store.User, error) {
	var u store.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (d *Driver) CreateUser(ctx context.Context, u *store.User) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Email, u.DisplayName, u.PasswordHash, u.Role, u.CreatedAt)
	return translate(err)
}

func (d *Driver) GetUser(ctx context.Context, id string) (*store.User, error) {
	return scanUser(d.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (d *Driver) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return scanUser(d.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (d *Driver) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	if email == "" {
		return nil, store.ErrNotFound
	}
	return scanUser(d.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 LIMIT 1`, email))
}

func (d *Driver) UpdateUser(ctx context.Context, u *store.User) error {
	return d.exec(ctx,
		`UPDATE users SET username = $2, email = $3, display_name = $4, password_hash = $5, role = $6 WHERE id = $1`,
		u.ID, u.Username, u.Email, u.DisplayName, u.PasswordHash, u.Role)
}

func (d *Driver) DeleteUser(ctx context.Context, id string) error {
	return d.exec(ctx, `DELETE FROM users WHERE id = $1`, id)
}

func (d *Driver) ListUsers(ctx context.Context) ([]*store.User, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*store.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CredentialStore implementation

const credentialColumns = `id, owner, website, url, username, secret, category, notes, strength_tier, fingerprint, created_at, updated_at`

func scanCredential(row pgx.Row) (*store.Credential, error) {
	var c store.Credential
	err := row.Scan(&c.ID, &c.Owner, &c.Website, &c.URL, &c.Username, &c.Secret, &c.Category,
		&c.Notes, &c.StrengthTier, &c.Fingerprint, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (d *Driver) CreateCredential(ctx context.Context, c *store.Credential) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO credentials (`+credentialColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.Owner, c.Website, c.URL, c.Username, c.Secret, c.Category, c.Notes,
		c.StrengthTier, c.Fingerprint, c.CreatedAt, c.UpdatedAt)
	return translate(err)
}

func (d *Driver) GetCredential(ctx context.Context, id string) (*store.Credential, error) {
	return scanCredential(d.pool.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id))
}

func (d *Driver) UpdateCredential(ctx context.Context, c *store.Credential) error {
	return d.exec(ctx,
		`UPDATE credentials SET website = $2, url = $3, username = $4, secret = $5, category = $6,
		 notes = $7, strength_tier = $8, fingerprint = $9, updated_at = $10 WHERE id = $1`,
		c.ID, c.Website, c.URL, c.Username, c.Secret, c.Category, c.Notes,
		c.StrengthTier, c.Fingerprint, time.Now().UnixMilli())
}

func (d *Driver) DeleteCredential(ctx context.Context, id string) error {
	return d.exec(ctx, `DELETE FROM credentials WHERE id = $1`, id)
}

func (d *Driver) ListCredentials(ctx context.Context, owner string) ([]*store.Credential, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE owner = $1 ORDER BY created_at`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]*store.Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// FolderStore implementation

const folderColumns = `id, owner, name, parent_id, created_at`

func scanFolder(row pgx.Row) (*store.Folder, error) {
	var f store.Folder
	if err := row.Scan(&f.ID, &f.Owner, &f.Name, &f.ParentID, &f.CreatedAt); err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (d *Driver) CreateFolder(ctx context.Context, f *store.Folder) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO folders (`+folderColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.Owner, f.Name, f.ParentID, f.CreatedAt)
	return translate(err)
}

func (d *Driver) GetFolder(ctx context.Context, id string) (*store.Folder, error) {
	return scanFolder(d.pool.QueryRow(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = $1`, id))
}

func (d *Driver) UpdateFolder(ctx context.Context, f *store.Folder) error {
	return d.exec(ctx, `UPDATE folders SET name = $2, parent_id = $3 WHERE id = $1`, f.ID, f.Name, f.ParentID)
}

func (d *Driver) DeleteFolder(ctx context.Context, id string) error {
	return d.exec(ctx, `DELETE FROM folders WHERE id = $1`, id)
}

func (d *Driver) ListFolders(ctx context.Context, owner string) ([]*store.Folder, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+folderColumns+` FROM folders WHERE owner = $1 ORDER BY name`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]*store.Folder, 0)
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, f)
	}
	return list, rows.Err()
}

func (d *Driver) CountFolderEntries(ctx context.Context, folderID string) (int, error) {
	var n int
	err := d.pool.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM folders WHERE parent_id = $1) + (SELECT count(*) FROM files WHERE folder_id = $1)`,
		folderID).Scan(&n)
	return n, err
}

// FileStore implementation

const fileColumns = `id, owner, name, storage_ref, mime_type, size_bytes, folder_id, created_at, updated_at`

func scanFile(row pgx.Row) (*store.File, error) {
	var f store.File
	err := row.Scan(&f.ID, &f.Owner, &f.Name, &f.StorageRef, &f.MimeType, &f.SizeBytes,
		&f.FolderID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	f.ShareLinks = []store.ShareLink{}
	return &f, nil
}

func (d *Driver) CreateFile(ctx context.Context, f *store.File) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		f.ID, f.Owner, f.Name, f.StorageRef, f.MimeType, f.SizeBytes, f.FolderID, f.CreatedAt, f.UpdatedAt)
	return translate(err)
}

func (d *Driver) GetFile(ctx context.Context, id string) (*store.File, error) {
	f, err := scanFile(d.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	links, err := d.listLinks(ctx, `WHERE file_id = $1`, id)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		f.ShareLinks = append(f.ShareLinks, *l)
	}
	return f, nil
}

func (d *Driver) UpdateFile(ctx context.Context, f *store.File) error {
	return d.exec(ctx,
		`UPDATE files SET name = $2, storage_ref = $3, mime_type = $4, size_bytes = $5, folder_id = $6, updated_at = $7 WHERE id = $1`,
		f.ID, f.Name, f.StorageRef, f.MimeType, f.SizeBytes, f.FolderID, time.Now().UnixMilli())
}

// DeleteFile relies on ON DELETE CASCADE to remove the file's links.
func (d *Driver) DeleteFile(ctx context.Context, id string) error {
	return d.exec(ctx, `DELETE FROM files WHERE id = $1`, id)
}

func (d *Driver) ListFiles(ctx context.Context, owner, folderID string) ([]*store.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE owner = $1 AND ($2 = '' OR folder_id = $2) ORDER BY created_at DESC`
	rows, err := d.pool.Query(ctx, query, owner, folderID)
	if err != nil {
		return nil, err
	}
	list := make([]*store.File, 0)
	byID := make(map[string]*store.File)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, f)
		byID[f.ID] = f
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	links, err := d.listLinks(ctx, `WHERE file_id IN (SELECT id FROM files WHERE owner = $1)`, owner)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if f, ok := byID[l.FileID]; ok {
			f.ShareLinks = append(f.ShareLinks, *l)
		}
	}
	return list, nil
}

// LinkStore implementation

const linkColumns = `id, file_id, token, recipients, team, permission, expires_at, password_protected,
	password_hash, download_limit, remaining_downloads, created_at`

func scanLink(row pgx.Row) (*store.ShareLink, error) {
	var l store.ShareLink
	err := row.Scan(&l.ID, &l.FileID, &l.Token, &l.Recipients, &l.Team, &l.Permission, &l.ExpiresAt,
		&l.PasswordProtected, &l.PasswordHash, &l.DownloadLimit, &l.RemainingDownloads, &l.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

func (d *Driver) listLinks(ctx context.Context, where string, args ...any) ([]*store.ShareLink, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+linkColumns+` FROM share_links `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]*store.ShareLink, 0)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}

func (d *Driver) AddShareLink(ctx context.Context, l *store.ShareLink) error {
	recipients := l.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	// INSERT ... SELECT yields zero rows when the file is missing.
	tag, err := d.pool.Exec(ctx,
		`INSERT INTO share_links (`+linkColumns+`)
		 SELECT $1, id, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12 FROM files WHERE id = $2`,
		l.ID, l.FileID, l.Token, recipients, l.Team, l.Permission, l.ExpiresAt, l.PasswordProtected,
		l.PasswordHash, l.DownloadLimit, l.RemainingDownloads, l.CreatedAt)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *Driver) GetShareLinkByToken(ctx context.Context, token string) (*store.ShareLink, error) {
	return scanLink(d.pool.QueryRow(ctx, `SELECT `+linkColumns+` FROM share_links WHERE token = $1`, token))
}

func (d *Driver) DeleteShareLink(ctx context.Context, fileID, linkID string) error {
	return d.exec(ctx, `DELETE FROM share_links WHERE id = $1 AND file_id = $2`, linkID, fileID)
}

func (d *Driver) ConsumeShareLink(ctx context.Context, linkID string, now time.Time) (*store.ShareLink, error) {
	l, err := scanLink(d.pool.QueryRow(ctx,
		`UPDATE share_links SET remaining_downloads = remaining_downloads - 1
		 WHERE id = $1 AND remaining_downloads > 0 AND expires_at > $2
		 RETURNING `+linkColumns,
		linkID, now.UnixMilli()))
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrConditionFailed
	}
	return l, err
}

func (d *Driver) PurgeShareLinks(ctx context.Context, now time.Time) (int, error) {
	tag, err := d.pool.Exec(ctx,
		`DELETE FROM share_links WHERE remaining_downloads <= 0 OR expires_at <= $1`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// MessageStore implementation

const messageColumns = `id, sender, receiver, content, read, created_at`

func (d *Driver) queryMessages(ctx context.Context, where string, args ...any) ([]*store.Message, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+messageColumns+` FROM messages `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Content, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}

func (d *Driver) CreateMessage(ctx context.Context, m *store.Message) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Sender, m.Receiver, m.Content, m.Read, m.CreatedAt)
	return translate(err)
}

func (d *Driver) ListMessages(ctx context.Context, userID string) ([]*store.Message, error) {
	return d.queryMessages(ctx, `WHERE sender = $1 OR receiver = $1`, userID)
}

func (d *Driver) ListConversation(ctx context.Context, userA, userB string) ([]*store.Message, error) {
	return d.queryMessages(ctx, `WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)`, userA, userB)
}

func (d *Driver) MarkRead(ctx context.Context, receiver, sender string) (int, error) {
	tag, err := d.pool.Exec(ctx,
		`UPDATE messages SET read = TRUE WHERE receiver = $1 AND sender = $2 AND NOT read`, receiver, sender)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// AuditStore implementation

const auditColumns = `id, owner, action, target_type, target_id, details, client_ip, created_at`

func (d *Driver) AppendAudit(ctx context.Context, e *store.AuditEntry) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO audit_entries (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Owner, e.Action, e.TargetType, e.TargetID, e.Details, e.ClientIP, e.CreatedAt)
	return translate(err)
}

func (d *Driver) ListAudit(ctx context.Context, owner string, limit int) ([]*store.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_entries WHERE owner = $1 ORDER BY created_at DESC`
	args := []any{owner}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]*store.AuditEntry, 0)
	for rows.Next() {
		var e store.AuditEntry
		if err := rows.Scan(&e.ID, &e.Owner, &e.Action, &e.TargetType, &e.TargetID, &e.Details, &e.ClientIP, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

// Compile-time interface checks
var _ store.Store = (*Driver)(nil)
