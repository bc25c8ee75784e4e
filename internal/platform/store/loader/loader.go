// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package loader registers every store driver.
package loader

import (
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/json"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/mirror"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/postgres"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/sqlite"
)
