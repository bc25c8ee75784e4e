// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package sqlite implements a SQLite-based persistence driver using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// DBFile is the database file name inside the data dir.
const DBFile = "vaultshare.db"

// Driver implements store.Store using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	return &Driver{
		dataDir: cfg.DataDir,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init initializes the SQLite database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	if err := os.MkdirAll(d.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(d.dataDir, DBFile)

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection serializes every
	// statement, including the conditional decrement.
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	d.db = db

	// AutoMigrate creates/updates tables based on model structs
	if err := db.WithContext(ctx).AutoMigrate(
		&store.User{},
		&store.Credential{},
		&store.Folder{},
		&store.File{},
		&store.ShareLink{},
		&store.Message{},
		&store.AuditEntry{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate maps GORM errors to store sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrAlreadyExists
	default:
		return err
	}
}

// affected maps a zero-row mutation to store.ErrNotFound.
func affected(result *gorm.DB) error {
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UserStore implementation

func (d *Driver) CreateUser(ctx context.Context, u *store.User) error {
	return translate(d.db.WithContext(ctx).Create(u).Error)
}

func (d *Driver) GetUser(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	if err := d.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (d *Driver) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	var u store.User
	if err := d.db.WithContext(ctx).First(&u, "username = ?", username).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (d *Driver) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	if email == "" {
		return nil, store.ErrNotFound
	}
	var u store.User
	if err := d.db.WithContext(ctx).First(&u, "email = ?", email).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (d *Driver) UpdateUser(ctx context.Context, u *store.User) error {
	return affected(d.db.WithContext(ctx).Model(&store.User{}).Where("id = ?", u.ID).Select("*").Updates(u))
}

func (d *Driver) DeleteUser(ctx context.Context, id string) error {
	return affected(d.db.WithContext(ctx).Delete(&store.User{}, "id = ?", id))
}

func (d *Driver) ListUsers(ctx context.Context) ([]*store.User, error) {
	var users []*store.User
	if err := d.db.WithContext(ctx).Order("username").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// CredentialStore implementation

func (d *Driver) CreateCredential(ctx context.Context, c *store.Credential) error {
	return translate(d.db.WithContext(ctx).Create(c).Error)
}

func (d *Driver) GetCredential(ctx context.Context, id string) (*store.Credential, error) {
	var c store.Credential
	if err := d.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (d *Driver) UpdateCredential(ctx context.Context, c *store.Credential) error {
	return affected(d.db.WithContext(ctx).Model(&store.Credential{}).Where("id = ?", c.ID).Select("*").Omit("created_at").Updates(c))
}

func (d *Driver) DeleteCredential(ctx context.Context, id string) error {
	return affected(d.db.WithContext(ctx).Delete(&store.Credential{}, "id = ?", id))
}

func (d *Driver) ListCredentials(ctx context.Context, owner string) ([]*store.Credential, error) {
	var list []*store.Credential
	if err := d.db.WithContext(ctx).Where("owner = ?", owner).Order("created_at").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// FolderStore implementation

func (d *Driver) CreateFolder(ctx context.Context, f *store.Folder) error {
	return translate(d.db.WithContext(ctx).Create(f).Error)
}

func (d *Driver) GetFolder(ctx context.Context, id string) (*store.Folder, error) {
	var f store.Folder
	if err := d.db.WithContext(ctx).First(&f, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (d *Driver) UpdateFolder(ctx context.Context, f *store.Folder) error {
	return affected(d.db.WithContext(ctx).Model(&store.Folder{}).Where("id = ?", f.ID).Select("*").Omit("created_at").Updates(f))
}

func (d *Driver) DeleteFolder(ctx context.Context, id string) error {
	return affected(d.db.WithContext(ctx).Delete(&store.Folder{}, "id = ?", id))
}

func (d *Driver) ListFolders(ctx context.Context, owner string) ([]*store.Folder, error) {
	var list []*store.Folder
	if err := d.db.WithContext(ctx).Where("owner = ?", owner).Order("name").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (d *Driver) CountFolderEntries(ctx context.Context, folderID string) (int, error) {
	var folders, files int64
	db := d.db.WithContext(ctx)
	if err := db.Model(&store.Folder{}).Where("parent_id = ?", folderID).Count(&folders).Error; err != nil {
		return 0, err
	}
	if err := db.Model(&store.File{}).Where("folder_id = ?", folderID).Count(&files).Error; err != nil {
		return 0, err
	}
	return int(folders + files), nil
}

// FileStore implementation

func (d *Driver) CreateFile(ctx context.Context, f *store.File) error {
	return translate(d.db.WithContext(ctx).Create(f).Error)
}

func (d *Driver) GetFile(ctx context.Context, id string) (*store.File, error) {
	var f store.File
	err := d.db.WithContext(ctx).
		Preload("ShareLinks", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		First(&f, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	if f.ShareLinks == nil {
		f.ShareLinks = []store.ShareLink{}
	}
	return &f, nil
}

func (d *Driver) UpdateFile(ctx context.Context, f *store.File) error {
	return affected(d.db.WithContext(ctx).Model(&store.File{}).Where("id = ?", f.ID).
		Select("*").Omit(clause.Associations, "created_at").Updates(f))
}

func (d *Driver) DeleteFile(ctx context.Context, id string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&store.ShareLink{}, "file_id = ?", id).Error; err != nil {
			return err
		}
		return affected(tx.Delete(&store.File{}, "id = ?", id))
	})
}

func (d *Driver) ListFiles(ctx context.Context, owner, folderID string) ([]*store.File, error) {
	query := d.db.WithContext(ctx).
		Preload("ShareLinks", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		Where("owner = ?", owner)
	if folderID != "" {
		query = query.Where("folder_id = ?", folderID)
	}
	var list []*store.File
	if err := query.Order("created_at desc").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// LinkStore implementation

func (d *Driver) AddShareLink(ctx context.Context, l *store.ShareLink) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&store.File{}).Where("id = ?", l.FileID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return translate(tx.Create(l).Error)
	})
}

func (d *Driver) GetShareLinkByToken(ctx context.Context, token string) (*store.ShareLink, error) {
	var l store.ShareLink
	if err := d.db.WithContext(ctx).First(&l, "token = ?", token).Error; err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

func (d *Driver) DeleteShareLink(ctx context.Context, fileID, linkID string) error {
	return affected(d.db.WithContext(ctx).Delete(&store.ShareLink{}, "id = ? AND file_id = ?", linkID, fileID))
}

// ConsumeShareLink performs a single guarded UPDATE; the guard, not a prior
// read, decides whether the caller gets a download.
func (d *Driver) ConsumeShareLink(ctx context.Context, linkID string, now time.Time) (*store.ShareLink, error) {
	var l store.ShareLink
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&store.ShareLink{}).
			Where("id = ? AND remaining_downloads > 0 AND expires_at > ?", linkID, now.UnixMilli()).
			UpdateColumn("remaining_downloads", gorm.Expr("remaining_downloads - 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return store.ErrConditionFailed
		}
		return tx.First(&l, "id = ?", linkID).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

func (d *Driver) PurgeShareLinks(ctx context.Context, now time.Time) (int, error) {
	result := d.db.WithContext(ctx).
		Where("remaining_downloads <= 0 OR expires_at <= ?", now.UnixMilli()).
		Delete(&store.ShareLink{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// MessageStore implementation

func (d *Driver) CreateMessage(ctx context.Context, m *store.Message) error {
	return translate(d.db.WithContext(ctx).Create(m).Error)
}

func (d *Driver) ListMessages(ctx context.Context, userID string) ([]*store.Message, error) {
	var list []*store.Message
	err := d.db.WithContext(ctx).
		Where("sender = ? OR receiver = ?", userID, userID).
		Order("created_at").Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (d *Driver) ListConversation(ctx context.Context, userA, userB string) ([]*store.Message, error) {
	var list []*store.Message
	err := d.db.WithContext(ctx).
		Where("(sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)", userA, userB, userB, userA).
		Order("created_at").Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (d *Driver) MarkRead(ctx context.Context, receiver, sender string) (int, error) {
	result := d.db.WithContext(ctx).Model(&store.Message{}).
		Where("receiver = ? AND sender = ? AND read = ?", receiver, sender, false).
		Update("read", true)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// AuditStore implementation

func (d *Driver) AppendAudit(ctx context.Context, e *store.AuditEntry) error {
	return translate(d.db.WithContext(ctx).Create(e).Error)
}

func (d *Driver) ListAudit(ctx context.Context, owner string, limit int) ([]*store.AuditEntry, error) {
	query := d.db.WithContext(ctx).Where("owner = ?", owner).Order("created_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var list []*store.AuditEntry
	if err := query.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// Compile-time interface checks
var _ store.Store = (*Driver)(nil)
