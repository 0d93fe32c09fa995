package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// strictEnv satisfies the strict preset's secret requirement without
// touching the process environment.
func strictEnv() map[string]string {
	return map[string]string{"CIRCLEINVITE_JWT_SECRET": testSecret}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func strPtr(s string) *string { return &s }

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Mode
		wantErr bool
	}{
		{"strict", "strict", ModeStrict, false},
		{"dev", "dev", ModeDev, false},
		{"empty defaults to strict", "", ModeStrict, false},
		{"uppercase", "STRICT", ModeStrict, false},
		{"whitespace", "  dev  ", ModeDev, false},
		{"interop is gone", "interop", "", true},
		{"invalid", "invalid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoad_StrictRequiresSecret(t *testing.T) {
	_, err := Load(LoaderOptions{Environ: map[string]string{}})
	if err == nil || !strings.Contains(err.Error(), "auth.jwt_secret") {
		t.Fatalf("expected jwt_secret error, got %v", err)
	}
}

func TestLoad_StrictDefaults(t *testing.T) {
	cfg, err := Load(LoaderOptions{Environ: strictEnv()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mode != "strict" {
		t.Errorf("expected mode strict, got %s", cfg.Mode)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected sqlite store, got %s", cfg.Store.Driver)
	}
	if cfg.Invitations.LinkMode != "jwt" {
		t.Errorf("expected jwt links, got %s", cfg.Invitations.LinkMode)
	}
	if cfg.Invitations.DefaultExpirationDays != 7 || cfg.Invitations.MaxExpirationDays != 30 {
		t.Errorf("expected 7/30 expiration days, got %d/%d",
			cfg.Invitations.DefaultExpirationDays, cfg.Invitations.MaxExpirationDays)
	}
	if cfg.Webhook.SSRFMode != "strict" {
		t.Errorf("expected webhook ssrf strict, got %s", cfg.Webhook.SSRFMode)
	}
	if !cfg.Sweeper.Enabled {
		t.Error("expected sweeper enabled")
	}
	if !cfg.RateLimit.Enabled || cfg.Cache.Driver != "memory" {
		t.Errorf("expected memory-backed rate limiting, got %+v / %q", cfg.RateLimit, cfg.Cache.Driver)
	}
}

func TestLoad_RateLimitAndCache(t *testing.T) {
	path := writeConfig(t, `
mode = "dev"

[ratelimit]
enabled = true
requests_per_window = 5

[cache]
driver = "memory"

[cache.drivers.valkey]
addr = "valkey:6379"
`)
	cfg, err := Load(LoaderOptions{
		ConfigPath: path,
		Environ:    map[string]string{"CIRCLEINVITE_CACHE_DRIVER": "valkey"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.RateLimit.Enabled || cfg.RateLimit.RequestsPerWindow != 5 {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.RateLimitWindow().Seconds() != 60 {
		t.Errorf("expected preset window to survive, got %v", cfg.RateLimitWindow())
	}
	if cfg.Cache.Driver != "valkey" {
		t.Errorf("env should select the cache driver, got %q", cfg.Cache.Driver)
	}
	if cfg.Cache.Drivers["valkey"]["addr"] != "valkey:6379" {
		t.Errorf("cache drivers = %v", cfg.Cache.Drivers)
	}
}

func TestLoad_TLS(t *testing.T) {
	path := writeConfig(t, `
mode = "dev"

[server.tls]
mode = "acme"

[server.tls.acme]
email = "ops@example.org"
domain = "invites.example.org"
use_staging = true
`)
	cfg, err := Load(LoaderOptions{ConfigPath: path, Environ: map[string]string{}})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	acme := cfg.Server.TLS.ACME
	if cfg.Server.TLS.Mode != "acme" || acme.Domain != "invites.example.org" || !acme.UseStaging {
		t.Errorf("tls = %+v", cfg.Server.TLS)
	}
	if acme.StorageDir != ".circleinvite/acme" || acme.HTTPAddr != ":80" {
		t.Errorf("preset acme defaults lost: %+v", acme)
	}

	cfg, err = Load(LoaderOptions{
		ConfigPath:    path,
		Environ:       map[string]string{"CIRCLEINVITE_TLS_MODE": "selfsigned"},
		FlagOverrides: FlagOverrides{TLSMode: strPtr("off")},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.TLS.Mode != "off" {
		t.Errorf("flag should win over env and file, got %q", cfg.Server.TLS.Mode)
	}
}

func TestLoad_PublicOrigin(t *testing.T) {
	path := writeConfig(t, "mode = \"dev\"\npublic_origin = \"HTTPS://Invites.Example.org/\"\n")
	cfg, err := Load(LoaderOptions{ConfigPath: path, Environ: map[string]string{}})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PublicOrigin != "https://invites.example.org" {
		t.Errorf("PublicOrigin = %q", cfg.PublicOrigin)
	}
	if cfg.Server.TLS.Hostname != "invites.example.org" {
		t.Errorf("TLS hostname should default to the origin host, got %q", cfg.Server.TLS.Hostname)
	}
}

func TestLoad_ModeFlag(t *testing.T) {
	cfg, err := Load(LoaderOptions{ModeFlag: "dev", Environ: map[string]string{}})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mode != "dev" {
		t.Errorf("expected mode dev, got %s", cfg.Mode)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected memory store in dev, got %s", cfg.Store.Driver)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug logging in dev, got %s", cfg.Logging.Level)
	}
	if cfg.Auth.JWTSecret == "" {
		t.Error("expected dev preset to carry a secret")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
mode = "strict"
listen_addr = ":9000"
external_base_path = "/circles"

[server]
trust_forwarded_for = true

[auth]
jwt_secret = "`+testSecret+`"
issuer = "gateway"

[invitations]
default_expiration_days = 14
max_expiration_days = 60
link_mode = "random"

[sweeper]
enabled = false

[store]
driver = "postgres"

[store.drivers.postgres]
dsn = "postgres://circle:secret@db/circle"

[cors]
allowed_origins = ["https://app.example.com"]

[webhook]
url = "https://hooks.example.com/invitations"

[[contacts]]
owner = "alice"
id = "bob"
email = "bob@example.com"

[[teams]]
target_type = "organization"
target_id = "acme"
teams = ["core", "ops"]

[http.services.api]
disable_link_preview = true
`)

	cfg, err := Load(LoaderOptions{ConfigPath: path, Environ: map[string]string{}})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ListenAddr != ":9000" || cfg.ExternalBasePath != "/circles" {
		t.Errorf("listen/base = %q/%q", cfg.ListenAddr, cfg.ExternalBasePath)
	}
	if !cfg.Server.TrustForwardedFor {
		t.Error("expected trust_forwarded_for")
	}
	if cfg.Auth.Issuer != "gateway" {
		t.Errorf("issuer = %q", cfg.Auth.Issuer)
	}
	if cfg.Invitations.DefaultExpirationDays != 14 || cfg.Invitations.MaxExpirationDays != 60 {
		t.Errorf("expiration days = %d/%d", cfg.Invitations.DefaultExpirationDays, cfg.Invitations.MaxExpirationDays)
	}
	if cfg.Invitations.LinkMode != "random" {
		t.Errorf("link mode = %q", cfg.Invitations.LinkMode)
	}
	if cfg.Sweeper.Enabled {
		t.Error("expected sweeper disabled by file")
	}
	if cfg.Sweeper.IntervalSeconds != 300 {
		t.Errorf("expected preset interval to survive, got %d", cfg.Sweeper.IntervalSeconds)
	}
	if len(cfg.Contacts) != 1 || cfg.Contacts[0].Email != "bob@example.com" {
		t.Errorf("contacts = %+v", cfg.Contacts)
	}
	if len(cfg.Teams) != 1 || len(cfg.Teams[0].Teams) != 2 {
		t.Errorf("teams = %+v", cfg.Teams)
	}

	dc := cfg.DriverConfig()
	if dc.Driver != "postgres" || dc.Options["dsn"] != "postgres://circle:secret@db/circle" {
		t.Errorf("driver config = %+v", dc)
	}

	svc := cfg.BuildServiceConfig("api")
	if svc["disable_link_preview"] != true {
		t.Errorf("service config = %v", svc)
	}
	svc["mutated"] = true
	if _, ok := cfg.HTTP.Services["api"]["mutated"]; ok {
		t.Error("BuildServiceConfig must return a copy")
	}
	if cfg.BuildServiceConfig("missing") != nil {
		t.Error("expected nil for unconfigured service")
	}
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
mode = "dev"
listen_addr = ":1111"

[store]
driver = "json"
data_dir = "/var/lib/file"
`)
	env := map[string]string{
		"CIRCLEINVITE_LISTEN_ADDR":          ":2222",
		"CIRCLEINVITE_STORE_DATA_DIR":       "/var/lib/env",
		"CIRCLEINVITE_SWEEPER_ENABLED":      "false",
		"CIRCLEINVITE_CORS_ALLOWED_ORIGINS": "https://a.example,https://b.example",
	}
	cfg, err := Load(LoaderOptions{
		ConfigPath: path,
		Environ:    env,
		FlagOverrides: FlagOverrides{
			ListenAddr:  strPtr(":3333"),
			StoreDriver: strPtr(""), // empty flag leaves the value alone
		},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ListenAddr != ":3333" {
		t.Errorf("flag should win: listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.Store.DataDir != "/var/lib/env" {
		t.Errorf("env should beat file: data_dir = %q", cfg.Store.DataDir)
	}
	if cfg.Store.Driver != "json" {
		t.Errorf("file should beat preset: driver = %q", cfg.Store.Driver)
	}
	if cfg.Sweeper.Enabled {
		t.Error("env should disable the sweeper")
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("allowed origins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoad_EnvMode(t *testing.T) {
	cfg, err := Load(LoaderOptions{Environ: map[string]string{"CIRCLEINVITE_MODE": "dev"}})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != "dev" {
		t.Errorf("expected env to select dev, got %s", cfg.Mode)
	}
}

func TestLoad_SweeperFlag(t *testing.T) {
	for _, tt := range []struct {
		flag string
		want bool
	}{
		{"", true},
		{"true", true},
		{"false", false},
	} {
		cfg, err := Load(LoaderOptions{
			ModeFlag:      "dev",
			Environ:       map[string]string{},
			FlagOverrides: FlagOverrides{SweeperEnabled: strPtr(tt.flag)},
		})
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Sweeper.Enabled != tt.want {
			t.Errorf("flag %q: sweeper enabled = %v, want %v", tt.flag, cfg.Sweeper.Enabled, tt.want)
		}
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		toml    string
		wantErr string
	}{
		{"logging level", "[logging]\nlevel = \"loud\"", "logging.level"},
		{"store driver", "[store]\ndriver = \"redis\"", "store.driver"},
		{"link mode", "[invitations]\nlink_mode = \"qr\"", "invitations.link_mode"},
		{"ssrf mode", "[webhook]\nssrf_mode = \"lenient\"", "webhook.ssrf_mode"},
		{"short secret", "[auth]\njwt_secret = \"short\"", "auth.jwt_secret"},
		{"default above max", "[invitations]\ndefault_expiration_days = 40", "exceeds max_expiration_days"},
		{"negative max", "[invitations]\nmax_expiration_days = -1", "max_expiration_days"},
		{"sweeper interval", "[sweeper]\ninterval_seconds = -5", "interval_seconds"},
		{"base path", "external_base_path = \"circles/\"", "external_base_path"},
		{"webhook url", "[webhook]\nurl = \"ftp://example.com\"", "webhook.url"},
		{"team target type", "[[teams]]\ntarget_type = \"team\"\ntarget_id = \"x\"", "teams[0].target_type"},
		{"contact without email", "[[contacts]]\nowner = \"alice\"", "contacts[0]"},
		{"cache driver", "[cache]\ndriver = \"memcached\"", "cache.driver"},
		{"rate limit window", "[ratelimit]\nenabled = true\nwindow_seconds = -1", "ratelimit"},
		{"public origin with path", "public_origin = \"https://example.org/x\"", "public_origin"},
		{"tls mode", "[server.tls]\nmode = \"auto\"", "server.tls.mode"},
		{"static tls without key", "[server.tls]\nmode = \"static\"\ncert_file = \"c.pem\"", "key_file"},
		{"acme without domain", "[server.tls]\nmode = \"acme\"\n[server.tls.acme]\nemail = \"ops@example.org\"", "server.tls.acme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "mode = \"dev\"\n"+tt.toml)
			_, err := Load(LoaderOptions{ConfigPath: path, Environ: map[string]string{}})
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingAndMalformedFile(t *testing.T) {
	if _, err := Load(LoaderOptions{ConfigPath: "/nonexistent/config.toml"}); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeConfig(t, "mode = [unterminated")
	if _, err := Load(LoaderOptions{ConfigPath: path}); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestLoad_UndecodedKeysWarn(t *testing.T) {
	path := writeConfig(t, "mode = \"dev\"\nunknown_key = 1\n")
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	if _, err := Load(LoaderOptions{ConfigPath: path, Environ: map[string]string{}, Logger: logger}); err != nil {
		t.Fatalf("undecoded keys must not fail the load: %v", err)
	}
	if !strings.Contains(buf.String(), "unknown_key") {
		t.Errorf("expected warning naming unknown_key, got %q", buf.String())
	}
}

func TestRedacted_HidesSecrets(t *testing.T) {
	cfg := DevConfig()
	cfg.Webhook.Secret = "hook-secret-value"
	cfg.Store.Drivers = map[string]map[string]any{
		"postgres": {"dsn": "postgres://u:dbpassword@h/d"},
	}

	out := cfg.Redacted()
	for _, secret := range []string{cfg.Auth.JWTSecret, "hook-secret-value", "dbpassword"} {
		if strings.Contains(out, secret) {
			t.Errorf("Redacted() leaks %q", secret)
		}
	}
	if !strings.Contains(out, "[REDACTED]") || !strings.Contains(out, `"postgres"`) {
		t.Errorf("unexpected Redacted() output:\n%s", out)
	}
}
