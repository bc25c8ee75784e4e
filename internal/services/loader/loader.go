// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package loader registers every HTTP service and interceptor via blank
// imports. Import it once from main.
package loader

import (
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/interceptors/cors"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/interceptors/ratelimit"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/services/api"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/services/share"
)
