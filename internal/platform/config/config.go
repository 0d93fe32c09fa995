// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/MahdiBaghbani/circleinvite/internal/components/directory"
	"github.com/MahdiBaghbani/circleinvite/internal/store"
)

// Config holds the server configuration.
type Config struct {
	// Mode is the operating mode: strict or dev.
	Mode string `toml:"mode"`

	// ListenAddr is the address to listen on.
	// Example: ":8080"
	ListenAddr string `toml:"listen_addr"`

	// ExternalBasePath is the optional path prefix all endpoints live under.
	// Example: "/circles" or empty string
	ExternalBasePath string `toml:"external_base_path"`

	// PublicOrigin is the scheme://host[:port] clients reach the server at.
	// When set, created link invitations carry an absolute linkUrl.
	// Example: "https://invites.example.org"
	PublicOrigin string `toml:"public_origin"`

	// Server holds server-level settings.
	Server ServerConfig `toml:"server"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// Auth configures bearer token verification.
	Auth AuthConfig `toml:"auth"`

	// Invitations holds lifecycle defaults.
	Invitations InvitationsConfig `toml:"invitations"`

	// Sweeper configures the periodic expiry sweep.
	Sweeper SweeperConfig `toml:"sweeper"`

	// Store selects and configures the persistence driver.
	Store StoreConfig `toml:"store"`

	// CORS configuration for browser clients.
	CORS CORSConfig `toml:"cors"`

	// Webhook configures the optional outbound notification hook.
	Webhook WebhookConfig `toml:"webhook"`

	// RateLimit throttles the link endpoints per client IP.
	RateLimit RateLimitConfig `toml:"ratelimit"`

	// Cache selects the counter backend used by rate limiting.
	Cache CacheConfig `toml:"cache"`

	// Contacts seeds the in-memory circle contact directory.
	Contacts []directory.ContactEntry `toml:"contacts"`

	// Teams seeds the organization/project team registry.
	Teams []directory.TeamEntry `toml:"teams"`

	// HTTP holds per-service HTTP configuration.
	HTTP HTTPConfig `toml:"http"`
}

// HTTPConfig holds per-service HTTP configuration.
// Services are configured under [http.services.<svcname>].
type HTTPConfig struct {
	// Services maps service names to their raw config maps.
	// Each service decodes its own config via cfg.Decode() with Setter interface.
	Services map[string]map[string]any `toml:"services"`
}

// ServerConfig holds server-level settings.
type ServerConfig struct {
	// TrustForwardedFor takes the client IP from X-Forwarded-For.
	// Only enable behind a proxy that overwrites the header.
	TrustForwardedFor bool `toml:"trust_forwarded_for"`

	// ShutdownTimeoutSeconds bounds graceful shutdown. Default: 10
	ShutdownTimeoutSeconds int `toml:"shutdown_timeout_seconds"`

	// TLS configures HTTPS on the main listener.
	TLS TLSConfig `toml:"tls"`
}

// TLSConfig holds listener certificate settings.
type TLSConfig struct {
	// Mode is one of: off, static, selfsigned, acme
	Mode string `toml:"mode"`

	// CertFile and KeyFile are the PEM pair used in static mode.
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// SelfSignedDir stores the generated pair in selfsigned mode.
	SelfSignedDir string `toml:"selfsigned_dir"`

	// Hostname is added to the self-signed certificate's names.
	// Defaults to the public_origin host.
	Hostname string `toml:"hostname"`

	ACME ACMEConfig `toml:"acme"`
}

// ACMEConfig holds ACME (Let's Encrypt compatible) settings.
type ACMEConfig struct {
	Email      string `toml:"email"`
	Domain     string `toml:"domain"`
	StorageDir string `toml:"storage_dir"`

	// Directory overrides the ACME directory URL, e.g. a local Pebble.
	Directory  string `toml:"directory"`
	UseStaging bool   `toml:"use_staging"`

	// HTTPAddr is where HTTP-01 challenges are answered. Default: ":80"
	HTTPAddr string `toml:"http_addr"`

	// RootCAFile and RootCADir add trust roots for the ACME directory.
	RootCAFile string `toml:"root_ca_file"`
	RootCADir  string `toml:"root_ca_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info in strict mode, debug in dev mode.
	Level string `toml:"level"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	// JWTSecret is the shared secret; signing keys are derived from it per
	// purpose. Must be at least 32 bytes.
	JWTSecret string `toml:"jwt_secret"`

	// Issuer is the expected "iss" claim.
	Issuer string `toml:"issuer"`

	// TokenTTLMinutes is the lifetime of tokens minted by the token command.
	TokenTTLMinutes int `toml:"token_ttl_minutes"`
}

// InvitationsConfig holds lifecycle defaults.
type InvitationsConfig struct {
	// DefaultExpirationDays applies when a request leaves expiration_days at 0.
	DefaultExpirationDays int `toml:"default_expiration_days"`

	// MaxExpirationDays caps expiration_days on create and resend.
	MaxExpirationDays int `toml:"max_expiration_days"`

	// LinkMode selects the link minter: random or jwt.
	LinkMode string `toml:"link_mode"`
}

// SweeperConfig holds periodic expiry sweep settings.
type SweeperConfig struct {
	// Enabled starts the sweeper with the server.
	Enabled bool `toml:"enabled"`

	// IntervalSeconds is the pause between sweeps.
	IntervalSeconds int `toml:"interval_seconds"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Driver is one of memory, json, sqlite, postgres, dynamodb.
	Driver string `toml:"driver"`

	// DataDir is the directory for json and sqlite data files.
	DataDir string `toml:"data_dir"`

	// Drivers holds per-driver tables, e.g. [store.drivers.postgres].
	Drivers map[string]map[string]any `toml:"drivers"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// AllowedOrigins lists browser origins allowed to call the API.
	// Empty disables CORS handling.
	AllowedOrigins []string `toml:"allowed_origins"`
}

// WebhookConfig holds outbound notification settings.
type WebhookConfig struct {
	// URL receives a signed JSON POST for every notified event. Empty disables.
	URL string `toml:"url"`

	// Secret signs webhook bodies; when empty a key derived from
	// auth.jwt_secret is used.
	Secret string `toml:"secret"`

	// SSRFMode is one of: strict, off
	SSRFMode string `toml:"ssrf_mode"`

	// TimeoutMS is the overall request timeout in milliseconds.
	TimeoutMS int `toml:"timeout_ms"`

	// RootCAFile adds PEM trust roots for the webhook endpoint.
	RootCAFile string `toml:"root_ca_file"`
}

// RateLimitConfig holds link endpoint throttling settings.
type RateLimitConfig struct {
	Enabled           bool  `toml:"enabled"`
	RequestsPerWindow int64 `toml:"requests_per_window"`
	WindowSeconds     int   `toml:"window_seconds"`
}

// CacheConfig selects the counter driver.
type CacheConfig struct {
	// Driver is memory or valkey.
	Driver string `toml:"driver"`

	// Drivers holds per-driver tables, e.g. [cache.drivers.valkey].
	Drivers map[string]map[string]any `toml:"drivers"`
}

// RateLimitWindow returns the rate limit window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// DriverConfig returns the store driver configuration.
func (c *Config) DriverConfig() *store.DriverConfig {
	return &store.DriverConfig{
		Driver:  c.Store.Driver,
		DataDir: c.Store.DataDir,
		Options: maps.Clone(c.Store.Drivers[c.Store.Driver]),
	}
}

// SweepInterval returns the sweeper interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweeper.IntervalSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// TokenTTL returns the lifetime of minted bearer tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

// BuildServiceConfig returns the raw service config map for a given service name.
// Returns nil if the service is not configured in [http.services.<name>].
func (c *Config) BuildServiceConfig(serviceName string) map[string]any {
	svcCfg, ok := c.HTTP.Services[serviceName]
	if !ok {
		return nil
	}
	// copy to prevent mutation
	return maps.Clone(svcCfg)
}

// Redacted returns a string representation of the config with secrets redacted.
func (c *Config) Redacted() string {
	var sb strings.Builder
	sb.WriteString("Config{\n")
	fmt.Fprintf(&sb, "  Mode: %q,\n", c.Mode)
	fmt.Fprintf(&sb, "  ListenAddr: %q,\n", c.ListenAddr)
	fmt.Fprintf(&sb, "  ExternalBasePath: %q,\n", c.ExternalBasePath)
	fmt.Fprintf(&sb, "  PublicOrigin: %q,\n", c.PublicOrigin)
	sb.WriteString("  Server: {\n")
	fmt.Fprintf(&sb, "    TrustForwardedFor: %v,\n", c.Server.TrustForwardedFor)
	fmt.Fprintf(&sb, "    ShutdownTimeoutSeconds: %d,\n", c.Server.ShutdownTimeoutSeconds)
	fmt.Fprintf(&sb, "    TLS: {Mode: %q, CertFile: %q, SelfSignedDir: %q, ACMEDomain: %q},\n",
		c.Server.TLS.Mode, c.Server.TLS.CertFile, c.Server.TLS.SelfSignedDir, c.Server.TLS.ACME.Domain)
	sb.WriteString("  },\n")
	fmt.Fprintf(&sb, "  Logging: {Level: %q},\n", c.Logging.Level)
	sb.WriteString("  Auth: {\n")
	fmt.Fprintf(&sb, "    JWTSecret: %s,\n", redact(c.Auth.JWTSecret))
	fmt.Fprintf(&sb, "    Issuer: %q,\n", c.Auth.Issuer)
	fmt.Fprintf(&sb, "    TokenTTLMinutes: %d,\n", c.Auth.TokenTTLMinutes)
	sb.WriteString("  },\n")
	sb.WriteString("  Invitations: {\n")
	fmt.Fprintf(&sb, "    DefaultExpirationDays: %d,\n", c.Invitations.DefaultExpirationDays)
	fmt.Fprintf(&sb, "    MaxExpirationDays: %d,\n", c.Invitations.MaxExpirationDays)
	fmt.Fprintf(&sb, "    LinkMode: %q,\n", c.Invitations.LinkMode)
	sb.WriteString("  },\n")
	fmt.Fprintf(&sb, "  Sweeper: {Enabled: %v, IntervalSeconds: %d},\n", c.Sweeper.Enabled, c.Sweeper.IntervalSeconds)
	sb.WriteString("  Store: {\n")
	fmt.Fprintf(&sb, "    Driver: %q,\n", c.Store.Driver)
	fmt.Fprintf(&sb, "    DataDir: %q,\n", c.Store.DataDir)
	// driver tables can hold DSNs with passwords; names only
	fmt.Fprintf(&sb, "    Drivers: %q,\n", slices.Sorted(maps.Keys(c.Store.Drivers)))
	sb.WriteString("  },\n")
	fmt.Fprintf(&sb, "  CORS: {AllowedOrigins: %v},\n", c.CORS.AllowedOrigins)
	sb.WriteString("  Webhook: {\n")
	fmt.Fprintf(&sb, "    URL: %q,\n", c.Webhook.URL)
	fmt.Fprintf(&sb, "    Secret: %s,\n", redact(c.Webhook.Secret))
	fmt.Fprintf(&sb, "    SSRFMode: %q,\n", c.Webhook.SSRFMode)
	fmt.Fprintf(&sb, "    TimeoutMS: %d,\n", c.Webhook.TimeoutMS)
	fmt.Fprintf(&sb, "    RootCAFile: %q,\n", c.Webhook.RootCAFile)
	sb.WriteString("  },\n")
	fmt.Fprintf(&sb, "  RateLimit: {Enabled: %v, RequestsPerWindow: %d, WindowSeconds: %d},\n",
		c.RateLimit.Enabled, c.RateLimit.RequestsPerWindow, c.RateLimit.WindowSeconds)
	fmt.Fprintf(&sb, "  Cache: {Driver: %q, Drivers: %q},\n", c.Cache.Driver, slices.Sorted(maps.Keys(c.Cache.Drivers)))
	fmt.Fprintf(&sb, "  ContactsCount: %d,\n", len(c.Contacts))
	fmt.Fprintf(&sb, "  TeamsCount: %d,\n", len(c.Teams))
	fmt.Fprintf(&sb, "  HTTP: {Services: %q},\n", slices.Sorted(maps.Keys(c.HTTP.Services)))
	sb.WriteString("}")
	return sb.String()
}

func redact(secret string) string {
	if secret == "" {
		return `""`
	}
	return "[REDACTED]"
}
