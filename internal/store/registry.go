package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
)

// DriverConfig holds configuration for driver selection and initialization.
type DriverConfig struct {
	// Driver is the driver name: memory, json, sqlite, postgres, dynamodb
	Driver string `toml:"driver"`

	// DataDir is the directory for data files (json files, sqlite db)
	DataDir string `toml:"data_dir"`

	// Options is the raw [store.drivers.<driver>] table; each driver
	// decodes its own settings from it.
	Options map[string]any `toml:"-"`
}

// DriverFactory is a function that creates a repository instance.
type DriverFactory func(cfg *DriverConfig) (Repository, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// Register registers a driver factory by name.
// This is typically called from init() in driver packages.
func Register(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// New creates a repository based on the configuration.
func New(cfg *DriverConfig) (Repository, error) {
	driversMu.RLock()
	factory, ok := drivers[cfg.Driver]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}

	return factory(cfg)
}

// AvailableDrivers returns the registered driver names, sorted.
func AvailableDrivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortNewestFirst orders invitations by CreatedAt descending, then id.
func SortNewestFirst(invs []invitations.Invitation) {
	sort.Slice(invs, func(i, j int) bool {
		if !invs[i].CreatedAt.Equal(invs[j].CreatedAt) {
			return invs[i].CreatedAt.After(invs[j].CreatedAt)
		}
		return invs[i].ID > invs[j].ID
	})
}

// SortActivities orders activities by timestamp, breaking ties by id.
func SortActivities(acts []invitations.Activity) {
	sort.SliceStable(acts, func(i, j int) bool {
		if !acts[i].Timestamp.Equal(acts[j].Timestamp) {
			return acts[i].Timestamp.Before(acts[j].Timestamp)
		}
		return acts[i].ID < acts[j].ID
	})
}

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
