package gormstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/MahdiBaghbani/circleinvite/internal/platform/cfg"
	"github.com/MahdiBaghbani/circleinvite/internal/store"
)

func init() {
	store.Register("sqlite", NewSQLite)
}

// SQLiteOptions is decoded from [store.drivers.sqlite].
type SQLiteOptions struct {
	File          string `mapstructure:"file"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"`
}

func (o *SQLiteOptions) ApplyDefaults() {
	if o.File == "" {
		o.File = "circleinvite.db"
	}
	if o.BusyTimeoutMS == 0 {
		o.BusyTimeoutMS = 5000
	}
}

// NewSQLite creates the sqlite driver. The database lives under DataDir.
func NewSQLite(c *store.DriverConfig) (store.Repository, error) {
	if c.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}
	var opts SQLiteOptions
	if err := cfg.Decode(c.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid sqlite options: %w", err)
	}

	dataDir := c.DataDir
	dialector := func() (gorm.Dialector, error) {
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
			filepath.Join(dataDir, opts.File), opts.BusyTimeoutMS)
		return sqlite.Open(dsn), nil
	}
	// A single connection serializes writers, so CAS losers see a clean
	// conflict instead of SQLITE_BUSY.
	tune := func(db *sql.DB) { db.SetMaxOpenConns(1) }

	return New("sqlite", dialector, tune), nil
}
