package gormstore

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MahdiBaghbani/circleinvite/internal/platform/cfg"
	"github.com/MahdiBaghbani/circleinvite/internal/store"
)

func init() {
	store.Register("postgres", NewPostgres)
}

// PostgresOptions is decoded from [store.drivers.postgres].
type PostgresOptions struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (o *PostgresOptions) ApplyDefaults() {
	if o.MaxOpenConns == 0 {
		o.MaxOpenConns = 10
	}
	if o.MaxIdleConns == 0 {
		o.MaxIdleConns = 2
	}
	if o.ConnMaxLifetime == 0 {
		o.ConnMaxLifetime = 30 * time.Minute
	}
}

// NewPostgres creates the postgres driver from [store.drivers.postgres].
func NewPostgres(c *store.DriverConfig) (store.Repository, error) {
	var opts PostgresOptions
	if err := cfg.Decode(c.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid postgres options: %w", err)
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("dsn is required for postgres driver")
	}

	dialector := func() (gorm.Dialector, error) {
		return postgres.Open(opts.DSN), nil
	}
	tune := func(db *sql.DB) {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxIdleConns)
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return New("postgres", dialector, tune), nil
}
