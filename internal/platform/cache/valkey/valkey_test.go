package valkey_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/MahdiBaghbani/circleinvite/internal/platform/cache/valkey"
)

func newCounters(t *testing.T) (*valkey.Counters, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	c, err := valkey.New(&valkey.Config{Addr: s.Addr(), DialTimeoutMS: 1000, KeyPrefix: "test:"})
	if err != nil {
		t.Fatalf("valkey.New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, s
}

func TestNew_FailFastUnreachable(t *testing.T) {
	_, err := valkey.New(&valkey.Config{Addr: "127.0.0.1:1", DialTimeoutMS: 100})
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestIncrement_KeepsWindow(t *testing.T) {
	c, s := newCounters(t)
	ctx := context.Background()
	ttl := 30 * time.Second
	now := time.Now()

	count, resetAt, err := c.Increment(ctx, "hits", 1, ttl)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if d := resetAt.Sub(now.Add(ttl)); d < -2*time.Second || d > 2*time.Second {
		t.Errorf("resetAt off by %v", d)
	}
	if got := s.TTL("test:hits"); got != ttl {
		t.Errorf("server ttl = %v, want %v", got, ttl)
	}

	count2, resetAt2, err := c.Increment(ctx, "hits", 1, ttl)
	if err != nil {
		t.Fatalf("second Increment: %v", err)
	}
	if count2 != 2 {
		t.Errorf("count = %d, want 2", count2)
	}
	if d := resetAt2.Sub(resetAt); d < -2*time.Second || d > 2*time.Second {
		t.Errorf("window moved by %v", d)
	}
}

func TestIncrement_WindowExpires(t *testing.T) {
	c, s := newCounters(t)
	ctx := context.Background()

	c.Increment(ctx, "hits", 5, time.Minute)
	s.FastForward(2 * time.Minute)

	count, _, err := c.Increment(ctx, "hits", 1, time.Minute)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if count != 1 {
		t.Errorf("count after window = %d, want 1", count)
	}
}

func TestGetCountAndReset(t *testing.T) {
	c, _ := newCounters(t)
	ctx := context.Background()

	if n, err := c.GetCount(ctx, "absent"); err != nil || n != 0 {
		t.Errorf("absent = %d, %v", n, err)
	}

	for i := 0; i < 4; i++ {
		c.Increment(ctx, "hits", 1, time.Minute)
	}
	if n, _ := c.GetCount(ctx, "hits"); n != 4 {
		t.Errorf("GetCount = %d, want 4", n)
	}

	if err := c.Reset(ctx, "hits"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n, _ := c.GetCount(ctx, "hits"); n != 0 {
		t.Errorf("after reset = %d", n)
	}
}
