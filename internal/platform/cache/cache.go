// Package cache provides TTL counters for rate limiting. Drivers register
// themselves by name; the memory driver is process-local and the valkey
// driver shares counters between replicas.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Counter is a set of named counters that expire as a whole window.
type Counter interface {
	// Increment adds delta to key and returns the new value and the time the
	// window resets. A missing or expired key starts a new window of ttl.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error)

	// GetCount returns the current value, 0 when the key is absent.
	GetCount(ctx context.Context, key string) (int64, error)

	// Reset deletes the counter.
	Reset(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}

// DriverFactory creates a counter from its [cache.drivers.<name>] table.
type DriverFactory func(conf map[string]any) (Counter, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// RegisterDriver registers a factory. Called from driver init().
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// NewFromConfig builds the named driver with its own config table.
func NewFromConfig(driver string, conf map[string]map[string]any) (Counter, error) {
	driversMu.RLock()
	factory, ok := drivers[driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown cache driver %q (available: %v)", driver, AvailableDrivers())
	}
	return factory(conf[driver])
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
