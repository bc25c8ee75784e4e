// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package loader registers every blob driver.
package loader

import (
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/blob/davfs"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/blob/s3"
)
