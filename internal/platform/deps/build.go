// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package deps

import (
	"fmt"
	"log/slog"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/audit"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/chat"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/credentials"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/files"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/sharelink"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/blob"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/cache"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/config"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/crypto"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/http/realip"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

// Backends are the initialized drivers the components are built on.
type Backends struct {
	Store store.Store
	Blobs blob.Store
	Cache cache.CacheWithCounter
	Keys  *crypto.KeyManager

	// UserAuth defaults to identity.NewUserAuth().
	UserAuth *identity.UserAuth
	// BcryptCost for share passwords; zero means bcrypt.DefaultCost.
	BcryptCost int
}

// Build wires every component from cfg on top of b. Configured vault keys
// take precedence over keys persisted in the key directory.
func Build(cfg *config.Config, b Backends, log *slog.Logger) (*Deps, error) {
	log = logutil.NoopIfNil(log)
	if b.Store == nil || b.Blobs == nil || b.Cache == nil || b.Keys == nil {
		return nil, fmt.Errorf("store, blobs, cache and keys are all required")
	}
	userAuth := b.UserAuth
	if userAuth == nil {
		userAuth = identity.NewUserAuth()
	}

	if cfg.Vault.FingerprintKey != "" {
		b.Keys.Set(crypto.FingerprintKeyName, []byte(cfg.Vault.FingerprintKey))
	}
	if cfg.Vault.ShareTicketKey != "" {
		b.Keys.Set(crypto.ShareTicketKeyName, []byte(cfg.Vault.ShareTicketKey))
	}
	fingerprintKey, err := b.Keys.LoadOrGenerate(crypto.FingerprintKeyName, crypto.FingerprintKeySize)
	if err != nil {
		return nil, err
	}
	ticketKey, err := b.Keys.LoadOrGenerate(crypto.ShareTicketKeyName, crypto.ShareTicketKeySize)
	if err != nil {
		return nil, err
	}

	rec := audit.NewRecorder(b.Store, log.With("component", "audit"))
	parties := identity.NewStorePartyRepo(b.Store)
	accounts := identity.NewAccounts(
		parties,
		identity.NewCacheSessionRepo(b.Cache),
		userAuth,
		identity.AccountsConfig{
			SessionTTL: cfg.Vault.SessionTTL(),
			LockAfter:  cfg.Vault.LockAfter(),
		},
		log.With("component", "identity"),
	)

	creds, err := credentials.NewService(b.Store, fingerprintKey, rec, log.With("component", "credentials"))
	if err != nil {
		return nil, err
	}

	fileSvc := files.NewService(b.Store, b.Blobs, rec, files.Config{
		MaxUploadBytes: cfg.Vault.MaxUploadBytes,
		Linker:         cfg.ShareURL,
	}, log.With("component", "files"))

	tickets, err := sharelink.NewTickets(ticketKey)
	if err != nil {
		return nil, err
	}
	links := sharelink.NewService(b.Store, fileSvc, rec, sharelink.Config{
		DefaultDownloadLimit: cfg.Vault.DefaultDownloadLimit,
		DefaultTTL:           cfg.Vault.DefaultLinkTTL(),
		Linker:               cfg.ShareURL,
		Tickets:              tickets,
		BcryptCost:           b.BcryptCost,
	}, log.With("component", "sharelink"))

	return &Deps{
		Accounts:    accounts,
		Credentials: creds,
		Files:       fileSvc,
		Links:       links,
		Chat:        chat.NewService(b.Store, parties, log.With("component", "chat")),
		Audit:       rec,
		Config:      cfg,
		Cache:       b.Cache,
		RealIP:      realip.NewTrustedProxies(cfg.Server.TrustedProxies),
	}, nil
}
