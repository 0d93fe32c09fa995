// Package memory provides a process-local counter driver.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/MahdiBaghbani/circleinvite/internal/platform/cache"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/cfg"
)

func init() {
	cache.RegisterDriver("memory", func(conf map[string]any) (cache.Counter, error) {
		var c Config
		if err := cfg.Decode(conf, &c); err != nil {
			return nil, err
		}
		return New(time.Duration(c.CleanupIntervalSeconds) * time.Second), nil
	})
}

// Config is the [cache.drivers.memory] table.
type Config struct {
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.CleanupIntervalSeconds <= 0 {
		c.CleanupIntervalSeconds = 300
	}
}

type counterItem struct {
	value     int64
	expiresAt time.Time
}

// Counters keeps counters in a map guarded by a mutex. Expired entries are
// ignored on read and dropped by a background sweep.
type Counters struct {
	mu        sync.Mutex
	counters  map[string]*counterItem
	now       func() time.Time
	stopClean chan struct{}
	closeOnce sync.Once
}

// New creates the driver. cleanupInterval 0 disables the background sweep.
func New(cleanupInterval time.Duration) *Counters {
	c := &Counters{
		counters:  make(map[string]*counterItem),
		now:       time.Now,
		stopClean: make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}
	return c
}

func (c *Counters) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stopClean:
			return
		}
	}
}

func (c *Counters) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, v := range c.counters {
		if now.After(v.expiresAt) {
			delete(c.counters, k)
		}
	}
}

func (c *Counters) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	item, ok := c.counters[key]
	if !ok || now.After(item.expiresAt) {
		item = &counterItem{expiresAt: now.Add(ttl)}
		c.counters[key] = item
	}
	item.value += delta
	return item.value, item.expiresAt, nil
}

func (c *Counters) GetCount(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.counters[key]
	if !ok || c.now().After(item.expiresAt) {
		return 0, nil
	}
	return item.value, nil
}

func (c *Counters) Reset(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counters, key)
	return nil
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *Counters) Close() error {
	c.closeOnce.Do(func() { close(c.stopClean) })
	return nil
}

var _ cache.Counter = (*Counters)(nil)
