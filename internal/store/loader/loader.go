// Package loader registers every store driver via blank imports.
package loader

import (
	_ "github.com/MahdiBaghbani/circleinvite/internal/store/dynamodb"
	_ "github.com/MahdiBaghbani/circleinvite/internal/store/gormstore"
	_ "github.com/MahdiBaghbani/circleinvite/internal/store/json"
	_ "github.com/MahdiBaghbani/circleinvite/internal/store/memory"
)
