// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package json implements a JSON file-based persistence driver.
// It uses atomic writes (temp file + fsync + rename) and in-process locking.
// Share links are kept embedded in their file record.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

func init() {
	store.Register("json", NewDriver)
}

const (
	usersFile       = "users.json"
	credentialsFile = "credentials.json"
	foldersFile     = "folders.json"
	filesFile       = "files.json"
	messagesFile    = "messages.json"
	auditFile       = "audit.json"
)

// Driver implements store.Store using JSON files.
type Driver struct {
	dataDir string
	mu      sync.RWMutex
	closed  bool

	// In-memory state loaded from JSON
	users       map[string]*store.User       // keyed by id
	credentials map[string]*store.Credential // keyed by id
	folders     map[string]*store.Folder     // keyed by id
	files       map[string]*store.File       // keyed by id, links embedded
	messages    []*store.Message             // append order
	audit       []*store.AuditEntry          // append order

	// Secondary indexes
	usernameIndex map[string]string // username -> user id
	tokenIndex    map[string]string // share token -> file id
	linkIndex     map[string]string // link id -> file id
}

// NewDriver creates a new JSON driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for json driver")
	}

	return &Driver{
		dataDir:     cfg.DataDir,
		users:       make(map[string]*store.User),
		credentials: make(map[string]*store.Credential),
		folders:     make(map[string]*store.Folder),
		files:       make(map[string]*store.File),
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "json"
}

// Init loads data from JSON files.
func (d *Driver) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	targets := []struct {
		name   string
		target any
	}{
		{usersFile, &d.users},
		{credentialsFile, &d.credentials},
		{foldersFile, &d.folders},
		{filesFile, &d.files},
		{messagesFile, &d.messages},
		{auditFile, &d.audit},
	}
	for _, tg := range targets {
		if err := d.loadFile(tg.name, tg.target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", tg.name, err)
		}
	}

	d.rebuildIndexes()
	return nil
}

// Close releases resources.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// loadFile loads a JSON file into the target.
func (d *Driver) loadFile(filename string, target any) error {
	data, err := os.ReadFile(filepath.Join(d.dataDir, filename))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// saveFile atomically writes data to a JSON file.
// Pattern: write to temp file, fsync, rename.
func (d *Driver) saveFile(filename string, data any) error {
	path := filepath.Join(d.dataDir, filename)
	tempPath := path + ".tmp"

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := f.Write(jsonData); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// rebuildIndexes rebuilds secondary indexes from primary data.
func (d *Driver) rebuildIndexes() {
	d.usernameIndex = make(map[string]string, len(d.users))
	d.tokenIndex = make(map[string]string)
	d.linkIndex = make(map[string]string)

	for id, u := range d.users {
		d.usernameIndex[u.Username] = id
	}
	for id, f := range d.files {
		for _, l := range f.ShareLinks {
			d.tokenIndex[l.Token] = id
			d.linkIndex[l.ID] = id
		}
	}
}

func (d *Driver) checkOpen() error {
	if d.closed {
		return store.ErrClosed
	}
	return nil
}

func copyFile(f *store.File) *store.File {
	c := *f
	c.ShareLinks = make([]store.ShareLink, len(f.ShareLinks))
	for i, l := range f.ShareLinks {
		c.ShareLinks[i] = copyLink(l)
	}
	return &c
}

func copyLink(l store.ShareLink) store.ShareLink {
	l.Recipients = append([]string(nil), l.Recipients...)
	return l
}

// UserStore implementation

func (d *Driver) CreateUser(ctx context.Context, u *store.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	if _, exists := d.users[u.ID]; exists {
		return store.ErrAlreadyExists
	}
	if _, exists := d.usernameIndex[u.Username]; exists {
		return store.ErrAlreadyExists
	}

	c := *u
	d.users[u.ID] = &c
	d.usernameIndex[u.Username] = u.ID
	return d.saveFile(usersFile, d.users)
}

func (d *Driver) GetUser(ctx context.Context, id string) (*store.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	u, ok := d.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (d *Driver) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	id, ok := d.usernameIndex[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *d.users[id]
	return &c, nil
}

func (d *Driver) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	if email == "" {
		return nil, store.ErrNotFound
	}
	for _, u := range d.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (d *Driver) UpdateUser(ctx context.Context, u *store.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	existing, ok := d.users[u.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Username != u.Username {
		if _, taken := d.usernameIndex[u.Username]; taken {
			return store.ErrAlreadyExists
		}
		delete(d.usernameIndex, existing.Username)
		d.usernameIndex[u.Username] = u.ID
	}

	c := *u
	d.users[u.ID] = &c
	return d.saveFile(usersFile, d.users)
}

func (d *Driver) DeleteUser(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	u, ok := d.users[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(d.usernameIndex, u.Username)
	delete(d.users, id)
	return d.saveFile(usersFile, d.users)
}

func (d *Driver) ListUsers(ctx context.Context) ([]*store.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	users := make([]*store.User, 0, len(d.users))
	for _, u := range d.users {
		c := *u
		users = append(users, &c)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// CredentialStore implementation

func (d *Driver) CreateCredential(ctx context.Context, c *store.Credential) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	if _, exists := d.credentials[c.ID]; exists {
		return store.ErrAlreadyExists
	}
	cp := *c
	d.credentials[c.ID] = &cp
	return d.saveFile(credentialsFile, d.credentials)
}

func (d *Driver) GetCredential(ctx context.Context, id string) (*store.Credential, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	c, ok := d.credentials[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (d *Driver) UpdateCredential(ctx context.Context, c *store.Credential) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	if _, exists := d.credentials[c.ID]; !exists {
		return store.ErrNotFound
	}
	cp := *c
	d.credentials[c.ID] = &cp
	return d.saveFile(credentialsFile, d.credentials)
}

func (d *Driver) DeleteCredential(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	if _, exists := d.credentials[id]; !exists {
		return store.ErrNotFound
	}
	delete(d.credentials, id)
	return d.saveFile(credentialsFile, d.credentials)
}

func (d *Driver) ListCredentials(ctx context.Context, owner string) ([]*store.Credential, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	list := make([]*store.Credential, 0)
	for _, c := range d.credentials {
		if c.Owner == owner {
			cp := *c
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt < list[j].CreatedAt })
	return list, nil
}

// FolderStore implementation

func (d *Driver) CreateFolder(ctx context.Context, f *store.Folder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	if _, exists := d.folders[f.ID]; exists {
		return store.ErrAlreadyExists
	}
	cp := *f
	d.folders[f.ID] = &cp
	return d.saveFile(foldersFile, d.folders)
}

func (d *Driver) GetFolder(ctx context.Context, id string) (*store.Folder, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	f, ok := d.folders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (d *Driver) UpdateFolder(ctx context.Context, f *store.Folder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	if _, exists := d.folders[f.ID]; !exists {
		return store.ErrNotFound
	}
	cp := *f
	d.folders[f.ID] = &cp
	return d.saveFile(foldersFile, d.folders)
}

func (d *Driver) DeleteFolder(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	if _, exists := d.folders[id]; !exists {
		return store.ErrNotFound
	}
	delete(d.folders, id)
	return d.saveFile(foldersFile, d.folders)
}

func (d *Driver) ListFolders(ctx context.Context, owner string) ([]*store.Folder, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	list := make([]*store.Folder, 0)
	for _, f := range d.folders {
		if f.Owner == owner {
			cp := *f
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func (d *Driver) CountFolderEntries(ctx context.Context, folderID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return 0, err
	}

	n := 0
	for _, f := range d.folders {
		if f.ParentID == folderID {
			n++
		}
	}
	for _, f := range d.files {
		if f.FolderID == folderID {
			n++
		}
	}
	return n, nil
}

// FileStore implementation

func (d *Driver) CreateFile(ctx context.Context, f *store.File) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	if _, exists := d.files[f.ID]; exists {
		return store.ErrAlreadyExists
	}
	d.files[f.ID] = copyFile(f)
	for _, l := range f.ShareLinks {
		d.tokenIndex[l.Token] = f.ID
		d.linkIndex[l.ID] = f.ID
	}
	return d.saveFile(filesFile, d.files)
}

func (d *Driver) GetFile(ctx context.Context, id string) (*store.File, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	f, ok := d.files[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyFile(f), nil
}

func (d *Driver) UpdateFile(ctx context.Context, f *store.File) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	existing, ok := d.files[f.ID]
	if !ok {
		return store.ErrNotFound
	}
	updated := copyFile(f)
	updated.ShareLinks = existing.ShareLinks
	updated.UpdatedAt = time.Now().UnixMilli()
	d.files[f.ID] = updated
	return d.saveFile(filesFile, d.files)
}

func (d *Driver) DeleteFile(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	f, ok := d.files[id]
	if !ok {
		return store.ErrNotFound
	}
	for _, l := range f.ShareLinks {
		delete(d.tokenIndex, l.Token)
		delete(d.linkIndex, l.ID)
	}
	delete(d.files, id)
	return d.saveFile(filesFile, d.files)
}

func (d *Driver) ListFiles(ctx context.Context, owner, folderID string) ([]*store.File, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	list := make([]*store.File, 0)
	for _, f := range d.files {
		if f.Owner != owner || (folderID != "" && f.FolderID != folderID) {
			continue
		}
		list = append(list, copyFile(f))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt > list[j].CreatedAt })
	return list, nil
}

// LinkStore implementation

func (d *Driver) AddShareLink(ctx context.Context, l *store.ShareLink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	f, ok := d.files[l.FileID]
	if !ok {
		return store.ErrNotFound
	}
	if _, taken := d.tokenIndex[l.Token]; taken {
		return store.ErrAlreadyExists
	}
	if _, taken := d.linkIndex[l.ID]; taken {
		return store.ErrAlreadyExists
	}

	f.ShareLinks = append(f.ShareLinks, copyLink(*l))
	d.tokenIndex[l.Token] = f.ID
	d.linkIndex[l.ID] = f.ID
	return d.saveFile(filesFile, d.files)
}

// findLink returns the file and the link's index inside it. Callers hold d.mu.
func (d *Driver) findLink(fileID, linkID string) (*store.File, int) {
	f, ok := d.files[fileID]
	if !ok {
		return nil, -1
	}
	for i := range f.ShareLinks {
		if f.ShareLinks[i].ID == linkID {
			return f, i
		}
	}
	return f, -1
}

func (d *Driver) GetShareLinkByToken(ctx context.Context, token string) (*store.ShareLink, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	fileID, ok := d.tokenIndex[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, l := range d.files[fileID].ShareLinks {
		if l.Token == token {
			cp := copyLink(l)
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (d *Driver) DeleteShareLink(ctx context.Context, fileID, linkID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	f, i := d.findLink(fileID, linkID)
	if i < 0 {
		return store.ErrNotFound
	}
	l := f.ShareLinks[i]
	f.ShareLinks = append(f.ShareLinks[:i], f.ShareLinks[i+1:]...)
	delete(d.tokenIndex, l.Token)
	delete(d.linkIndex, l.ID)
	return d.saveFile(filesFile, d.files)
}

// ConsumeShareLink checks and decrements under the write lock, so no two
// callers can observe the same remaining count.
func (d *Driver) ConsumeShareLink(ctx context.Context, linkID string, now time.Time) (*store.ShareLink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	fileID, ok := d.linkIndex[linkID]
	if !ok {
		return nil, store.ErrConditionFailed
	}
	f, i := d.findLink(fileID, linkID)
	if i < 0 {
		return nil, store.ErrConditionFailed
	}
	l := &f.ShareLinks[i]
	if !l.Live(now) {
		return nil, store.ErrConditionFailed
	}

	l.RemainingDownloads--
	if err := d.saveFile(filesFile, d.files); err != nil {
		l.RemainingDownloads++
		return nil, err
	}
	cp := copyLink(*l)
	return &cp, nil
}

func (d *Driver) PurgeShareLinks(ctx context.Context, now time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return 0, err
	}

	purged := 0
	for _, f := range d.files {
		kept := f.ShareLinks[:0]
		for _, l := range f.ShareLinks {
			if l.Live(now) {
				kept = append(kept, l)
				continue
			}
			delete(d.tokenIndex, l.Token)
			delete(d.linkIndex, l.ID)
			purged++
		}
		f.ShareLinks = kept
	}
	if purged == 0 {
		return 0, nil
	}
	return purged, d.saveFile(filesFile, d.files)
}

// MessageStore implementation

func (d *Driver) CreateMessage(ctx context.Context, m *store.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	cp := *m
	d.messages = append(d.messages, &cp)
	return d.saveFile(messagesFile, d.messages)
}

func (d *Driver) filterMessages(match func(*store.Message) bool) []*store.Message {
	list := make([]*store.Message, 0)
	for _, m := range d.messages {
		if match(m) {
			cp := *m
			list = append(list, &cp)
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt < list[j].CreatedAt })
	return list
}

func (d *Driver) ListMessages(ctx context.Context, userID string) ([]*store.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	return d.filterMessages(func(m *store.Message) bool {
		return m.Sender == userID || m.Receiver == userID
	}), nil
}

func (d *Driver) ListConversation(ctx context.Context, userA, userB string) ([]*store.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	return d.filterMessages(func(m *store.Message) bool {
		return (m.Sender == userA && m.Receiver == userB) || (m.Sender == userB && m.Receiver == userA)
	}), nil
}

func (d *Driver) MarkRead(ctx context.Context, receiver, sender string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return 0, err
	}

	n := 0
	for _, m := range d.messages {
		if m.Receiver == receiver && m.Sender == sender && !m.Read {
			m.Read = true
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, d.saveFile(messagesFile, d.messages)
}

// AuditStore implementation

func (d *Driver) AppendAudit(ctx context.Context, e *store.AuditEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	cp := *e
	d.audit = append(d.audit, &cp)
	return d.saveFile(auditFile, d.audit)
}

func (d *Driver) ListAudit(ctx context.Context, owner string, limit int) ([]*store.AuditEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	list := make([]*store.AuditEntry, 0)
	for i := len(d.audit) - 1; i >= 0; i-- {
		if e := d.audit[i]; e.Owner == owner {
			cp := *e
			list = append(list, &cp)
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt > list[j].CreatedAt })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Compile-time interface checks
var _ store.Store = (*Driver)(nil)
