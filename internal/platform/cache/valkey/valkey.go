// Package valkey provides a counter driver on Valkey (or Redis), so replicas
// behind one load balancer share rate limit windows.
package valkey

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/MahdiBaghbani/circleinvite/internal/platform/cache"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/cfg"
)

func init() {
	cache.RegisterDriver("valkey", func(conf map[string]any) (cache.Counter, error) {
		var c Config
		if err := cfg.Decode(conf, &c); err != nil {
			return nil, err
		}
		return New(&c)
	})
}

// Config is the [cache.drivers.valkey] table.
type Config struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	DialTimeoutMS int    `mapstructure:"dial_timeout_ms"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DialTimeoutMS <= 0 {
		c.DialTimeoutMS = 5000
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "circleinvite:"
	}
}

// Counters stores each counter as an integer key with a PEXPIRE window.
type Counters struct {
	client valkey.Client
	prefix string
}

// New connects and pings the server, failing fast when it is unreachable.
func New(c *Config) (*Counters, error) {
	if c == nil {
		c = &Config{}
	}
	c.ApplyDefaults()

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{c.Addr},
		Password:     c.Password,
		SelectDB:     c.DB,
		Dialer:       net.Dialer{Timeout: time.Duration(c.DialTimeoutMS) * time.Millisecond},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", c.Addr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.DialTimeoutMS)*time.Millisecond)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey health check failed: %w", err)
	}

	return &Counters{client: client, prefix: c.KeyPrefix}, nil
}

func (v *Counters) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error) {
	k := v.prefix + key

	count, err := v.client.Do(ctx, v.client.B().Incrby().Key(k).Increment(delta).Build()).AsInt64()
	if err != nil {
		return 0, time.Time{}, err
	}
	if count == delta {
		// first hit opens the window
		if err := v.client.Do(ctx, v.client.B().Pexpire().Key(k).Milliseconds(ttl.Milliseconds()).Build()).Error(); err != nil {
			return 0, time.Time{}, err
		}
		return count, time.Now().Add(ttl), nil
	}

	pttl, err := v.client.Do(ctx, v.client.B().Pttl().Key(k).Build()).AsInt64()
	if err != nil {
		return 0, time.Time{}, err
	}
	if pttl < 0 {
		// the expiry was lost (e.g. a crash between INCRBY and PEXPIRE)
		if err := v.client.Do(ctx, v.client.B().Pexpire().Key(k).Milliseconds(ttl.Milliseconds()).Build()).Error(); err != nil {
			return 0, time.Time{}, err
		}
		pttl = ttl.Milliseconds()
	}
	return count, time.Now().Add(time.Duration(pttl) * time.Millisecond), nil
}

func (v *Counters) GetCount(ctx context.Context, key string) (int64, error) {
	n, err := v.client.Do(ctx, v.client.B().Get().Key(v.prefix+key).Build()).AsInt64()
	if valkey.IsValkeyNil(err) {
		return 0, nil
	}
	return n, err
}

func (v *Counters) Reset(ctx context.Context, key string) error {
	return v.client.Do(ctx, v.client.B().Del().Key(v.prefix+key).Build()).Error()
}

func (v *Counters) Close() error {
	v.client.Close()
	return nil
}

var _ cache.Counter = (*Counters)(nil)
