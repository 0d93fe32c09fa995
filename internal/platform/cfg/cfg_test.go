package cfg

import (
	"testing"
	"time"
)

type testConfig struct {
	Name    string        `mapstructure:"name"`
	Count   int           `mapstructure:"count"`
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type testConfigWithDefaults struct {
	Name  string `mapstructure:"name"`
	Count int    `mapstructure:"count"`
}

func (c *testConfigWithDefaults) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "default-name"
	}
	if c.Count == 0 {
		c.Count = 42
	}
}

func TestDecode_Basic(t *testing.T) {
	input := map[string]any{
		"name":    "test",
		"count":   int64(10), // TOML integers decode as int64
		"enabled": true,
		"timeout": "5s",
	}

	var c testConfig
	if err := Decode(input, &c); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if c.Name != "test" {
		t.Errorf("Expected name 'test', got %q", c.Name)
	}
	if c.Count != 10 {
		t.Errorf("Expected count 10, got %d", c.Count)
	}
	if !c.Enabled {
		t.Error("Expected enabled true, got false")
	}
	if c.Timeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %v", c.Timeout)
	}
}

func TestDecode_AppliesDefaults(t *testing.T) {
	var c testConfigWithDefaults
	if err := Decode(map[string]any{"count": 7}, &c); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if c.Name != "default-name" {
		t.Errorf("Expected default name, got %q", c.Name)
	}
	if c.Count != 7 {
		t.Errorf("Expected explicit count to survive defaults, got %d", c.Count)
	}
}

func TestDecode_NilInput(t *testing.T) {
	var c testConfigWithDefaults
	if err := Decode(nil, &c); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if c.Count != 42 {
		t.Errorf("Expected defaults on nil input, got %d", c.Count)
	}
}

func TestDecode_RejectsUnknownKeys(t *testing.T) {
	var c testConfig
	if err := Decode(map[string]any{"nmae": "typo"}, &c); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestDecodeWithUnused(t *testing.T) {
	input := map[string]any{
		"name":  "svc",
		"zeta":  1,
		"alpha": "x",
		"count": int64(3),
	}

	var c testConfigWithDefaults
	unused, err := DecodeWithUnused(input, &c)
	if err != nil {
		t.Fatalf("DecodeWithUnused failed: %v", err)
	}
	if c.Name != "svc" || c.Count != 3 {
		t.Errorf("decoded = %+v", c)
	}
	if len(unused) != 2 || unused[0] != "alpha" || unused[1] != "zeta" {
		t.Errorf("unused = %v, want [alpha zeta]", unused)
	}
}
