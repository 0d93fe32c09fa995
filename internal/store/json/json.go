// Package json persists the invitation store as a single JSON document in
// data_dir. Intended for single-process deployments and demos.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MahdiBaghbani/circleinvite/internal/store"
	"github.com/MahdiBaghbani/circleinvite/internal/store/memory"
)

const dataFile = "invitations.json"

func init() {
	store.Register("json", NewDriver)
}

// Driver keeps the working set in a memory.Store and rewrites the data
// file after every committed change. A failed write rolls the change back.
type Driver struct {
	*memory.Store
	dataDir string
}

// NewDriver creates a new JSON driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Repository, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for json driver")
	}

	return &Driver{
		Store:   memory.New(),
		dataDir: cfg.DataDir,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "json"
}

// Init loads the data file and installs the persistence hook.
func (d *Driver) Init(ctx context.Context) error {
	if err := os.MkdirAll(d.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	var snap memory.Snapshot
	if err := d.loadFile(&snap); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load invitations: %w", err)
	}
	d.Restore(snap)
	d.SetCommitHook(d.saveFile)
	return nil
}

func (d *Driver) loadFile(target *memory.Snapshot) error {
	data, err := os.ReadFile(filepath.Join(d.dataDir, dataFile))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// saveFile replaces the data file with snap. The bytes go to a fresh temp
// file in the same directory, are synced, then renamed over the old file,
// so readers see either the previous or the new content.
func (d *Driver) saveFile(snap memory.Snapshot) (err error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode invitations: %w", err)
	}

	f, err := os.CreateTemp(d.dataDir, dataFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if err := f.Chmod(0600); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(f.Name(), filepath.Join(d.dataDir, dataFile)); err != nil {
		return fmt.Errorf("failed to replace data file: %w", err)
	}
	return nil
}
