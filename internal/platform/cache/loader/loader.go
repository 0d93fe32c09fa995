// Package loader registers the counter drivers via blank imports.
package loader

import (
	_ "github.com/MahdiBaghbani/circleinvite/internal/platform/cache/memory"
	_ "github.com/MahdiBaghbani/circleinvite/internal/platform/cache/valkey"
)
