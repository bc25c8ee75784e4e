// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package crypto manages the symmetric keys the vault derives its secrets from.
package crypto

import (
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Key names persisted under the key directory.
const (
	FingerprintKeyName = "fingerprint"
	ShareTicketKeyName = "share-ticket"
)

// Minimum key sizes in bytes.
const (
	FingerprintKeySize = 32
	ShareTicketKeySize = 32
)

const pemType = "VAULTSHARE SECRET KEY"

// KeyManager loads symmetric keys from a directory, generating and
// persisting any key that does not exist yet.
type KeyManager struct {
	mu     sync.RWMutex
	keyDir string
	keys   map[string][]byte
}

// NewKeyManager creates a key manager rooted at keyDir. An empty keyDir keeps
// generated keys in memory only.
func NewKeyManager(keyDir string) *KeyManager {
	return &KeyManager{
		keyDir: keyDir,
		keys:   make(map[string][]byte),
	}
}

// Set installs an explicitly configured key, bypassing the key directory.
func (km *KeyManager) Set(name string, key []byte) {
	km.mu.Lock()
	defer km.mu.Unlock()
	km.keys[name] = append([]byte(nil), key...)
}

// LoadOrGenerate returns the named key, loading it from disk or generating
// size random bytes when it does not exist. A key on disk shorter than size
// is rejected rather than silently replaced.
func (km *KeyManager) LoadOrGenerate(name string, size int) ([]byte, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	if key, ok := km.keys[name]; ok {
		return key, nil
	}

	if km.keyDir != "" {
		key, err := km.loadKey(name)
		switch {
		case err == nil:
			if len(key) < size {
				return nil, fmt.Errorf("key %s is %d bytes, need at least %d", name, len(key), size)
			}
			km.keys[name] = key
			return key, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to load key %s: %w", name, err)
		}
	}

	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key %s: %w", name, err)
	}

	if km.keyDir != "" {
		if err := km.saveKey(name, key); err != nil {
			return nil, fmt.Errorf("failed to save key %s: %w", name, err)
		}
	}
	km.keys[name] = key
	return key, nil
}

// KeyPath returns the file a named key is persisted to.
func (km *KeyManager) KeyPath(name string) string {
	return filepath.Join(km.keyDir, name+".pem")
}

func (km *KeyManager) loadKey(name string) ([]byte, error) {
	data, err := os.ReadFile(km.KeyPath(name))
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type != pemType {
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}
	return block.Bytes, nil
}

func (km *KeyManager) saveKey(name string, key []byte) error {
	if err := os.MkdirAll(km.keyDir, 0700); err != nil {
		return err
	}
	data := pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: key})
	return os.WriteFile(km.KeyPath(name), data, 0600)
}
