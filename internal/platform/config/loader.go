package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/MahdiBaghbani/circleinvite/internal/components/directory"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/publicorigin"
)

// Mode represents the server operating mode.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeDev    Mode = "dev"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CIRCLEINVITE_"

// minSecretLen matches identity.DeriveKey's requirement.
const minSecretLen = 32

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return ModeStrict, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of strict, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Environ replaces the process environment when non-nil (tests).
	Environ map[string]string

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr     *string
	LoggingLevel   *string
	StoreDriver    *string
	StoreDataDir   *string
	LinkMode       *string
	SweeperEnabled *string // "true", "false", or "" (unset)
	TLSMode        *string
}

// envOverrides is read with caarlos0/env under EnvPrefix. Nil pointers mean
// the variable is unset.
type envOverrides struct {
	Mode           *string  `env:"MODE"`
	ListenAddr     *string  `env:"LISTEN_ADDR"`
	LoggingLevel   *string  `env:"LOG_LEVEL"`
	JWTSecret      *string  `env:"JWT_SECRET"`
	StoreDriver    *string  `env:"STORE_DRIVER"`
	StoreDataDir   *string  `env:"STORE_DATA_DIR"`
	LinkMode       *string  `env:"LINK_MODE"`
	SweeperEnabled *bool    `env:"SWEEPER_ENABLED"`
	WebhookURL     *string  `env:"WEBHOOK_URL"`
	WebhookSecret  *string  `env:"WEBHOOK_SECRET"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CacheDriver    *string  `env:"CACHE_DRIVER"`
	TLSMode        *string  `env:"TLS_MODE"`
	PublicOrigin   *string  `env:"PUBLIC_ORIGIN"`
}

// fileConfig mirrors Config but with pointer fields to detect presence.
type fileConfig struct {
	Mode             string `toml:"mode"`
	ListenAddr       string `toml:"listen_addr"`
	ExternalBasePath string `toml:"external_base_path"`
	PublicOrigin     string `toml:"public_origin"`

	Server      *serverConfig      `toml:"server"`
	Logging     *LoggingConfig     `toml:"logging"`
	Auth        *AuthConfig        `toml:"auth"`
	Invitations *InvitationsConfig `toml:"invitations"`
	Sweeper     *sweeperConfig     `toml:"sweeper"`
	Store       *StoreConfig       `toml:"store"`
	CORS        *CORSConfig        `toml:"cors"`
	Webhook     *WebhookConfig     `toml:"webhook"`
	RateLimit   *rateLimitConfig   `toml:"ratelimit"`
	Cache       *CacheConfig       `toml:"cache"`
	HTTP        *HTTPConfig        `toml:"http"`

	Contacts []directory.ContactEntry `toml:"contacts"`
	Teams    []directory.TeamEntry    `toml:"teams"`
}

// serverConfig holds server settings from TOML.
type serverConfig struct {
	TrustForwardedFor      *bool      `toml:"trust_forwarded_for"`
	ShutdownTimeoutSeconds int        `toml:"shutdown_timeout_seconds"`
	TLS                    *tlsConfig `toml:"tls"`
}

// tlsConfig holds TLS settings from TOML.
type tlsConfig struct {
	Mode          string      `toml:"mode"`
	CertFile      string      `toml:"cert_file"`
	KeyFile       string      `toml:"key_file"`
	SelfSignedDir string      `toml:"selfsigned_dir"`
	Hostname      string      `toml:"hostname"`
	ACME          *acmeConfig `toml:"acme"`
}

// acmeConfig holds ACME settings from TOML.
type acmeConfig struct {
	Email      string `toml:"email"`
	Domain     string `toml:"domain"`
	StorageDir string `toml:"storage_dir"`
	Directory  string `toml:"directory"`
	UseStaging *bool  `toml:"use_staging"`
	HTTPAddr   string `toml:"http_addr"`
	RootCAFile string `toml:"root_ca_file"`
	RootCADir  string `toml:"root_ca_dir"`
}

// sweeperConfig holds sweeper settings from TOML.
type sweeperConfig struct {
	Enabled         *bool `toml:"enabled"`
	IntervalSeconds int   `toml:"interval_seconds"`
}

// rateLimitConfig holds rate limit settings from TOML.
type rateLimitConfig struct {
	Enabled           *bool `toml:"enabled"`
	RequestsPerWindow int64 `toml:"requests_per_window"`
	WindowSeconds     int   `toml:"window_seconds"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > CIRCLEINVITE_MODE > mode in config file > default (strict)
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay CIRCLEINVITE_* environment variables
//  5. Overlay CLI flags
//  6. Validate
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid TOML,
// Load returns an error (fail fast). Unknown/undecoded TOML keys produce a warning
// but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig
	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
	}

	var ev envOverrides
	if err := env.ParseWithOptions(&ev, env.Options{Prefix: EnvPrefix, Environment: opts.Environ}); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	modeStr := "strict"
	if fc.Mode != "" {
		modeStr = fc.Mode
	}
	if ev.Mode != nil && *ev.Mode != "" {
		modeStr = *ev.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}
	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)
	overlayFileConfig(cfg, &fc)
	overlayEnv(cfg, &ev)
	overlayFlags(cfg, opts.FlagOverrides)

	if err := validateEnums(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// presetForMode returns the base config for a given mode.
func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return StrictConfig()
}

// StrictConfig returns production-safe strict defaults. auth.jwt_secret has
// no default and must be configured.
func StrictConfig() *Config {
	return &Config{
		Mode:       string(ModeStrict),
		ListenAddr: ":8080",
		Server: ServerConfig{
			ShutdownTimeoutSeconds: 10,
			TLS: TLSConfig{
				Mode:          "off",
				SelfSignedDir: ".circleinvite/certs",
				ACME: ACMEConfig{
					StorageDir: ".circleinvite/acme",
					HTTPAddr:   ":80",
				},
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			Issuer:          "circleinvite",
			TokenTTLMinutes: 60,
		},
		Invitations: InvitationsConfig{
			DefaultExpirationDays: 7,
			MaxExpirationDays:     30,
			LinkMode:              "jwt",
		},
		Sweeper: SweeperConfig{
			Enabled:         true,
			IntervalSeconds: 300,
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: ".circleinvite",
		},
		Webhook: WebhookConfig{
			SSRFMode:  "strict",
			TimeoutMS: 5000,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: 30,
			WindowSeconds:     60,
		},
		Cache: CacheConfig{
			Driver: "memory",
		},
	}
}

// DevConfig returns development mode defaults.
func DevConfig() *Config {
	cfg := StrictConfig()
	cfg.Mode = string(ModeDev)
	cfg.Logging.Level = "debug"
	cfg.Auth.JWTSecret = "circleinvite-dev-secret-do-not-use-in-prod"
	cfg.Auth.TokenTTLMinutes = 24 * 60
	cfg.Invitations.LinkMode = "random"
	cfg.Sweeper.IntervalSeconds = 30
	cfg.Store.Driver = "memory"
	cfg.Webhook.SSRFMode = "off"
	cfg.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.RateLimit.Enabled = false
	return cfg
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.ExternalBasePath != "" {
		cfg.ExternalBasePath = fc.ExternalBasePath
	}
	if fc.PublicOrigin != "" {
		cfg.PublicOrigin = fc.PublicOrigin
	}

	if fc.Server != nil {
		if fc.Server.TrustForwardedFor != nil {
			cfg.Server.TrustForwardedFor = *fc.Server.TrustForwardedFor
		}
		if fc.Server.ShutdownTimeoutSeconds != 0 {
			cfg.Server.ShutdownTimeoutSeconds = fc.Server.ShutdownTimeoutSeconds
		}
		if fc.Server.TLS != nil {
			overlayTLS(&cfg.Server.TLS, fc.Server.TLS)
		}
	}

	if fc.Logging != nil && fc.Logging.Level != "" {
		cfg.Logging.Level = fc.Logging.Level
	}

	if fc.Auth != nil {
		if fc.Auth.JWTSecret != "" {
			cfg.Auth.JWTSecret = fc.Auth.JWTSecret
		}
		if fc.Auth.Issuer != "" {
			cfg.Auth.Issuer = fc.Auth.Issuer
		}
		if fc.Auth.TokenTTLMinutes != 0 {
			cfg.Auth.TokenTTLMinutes = fc.Auth.TokenTTLMinutes
		}
	}

	if fc.Invitations != nil {
		if fc.Invitations.DefaultExpirationDays != 0 {
			cfg.Invitations.DefaultExpirationDays = fc.Invitations.DefaultExpirationDays
		}
		if fc.Invitations.MaxExpirationDays != 0 {
			cfg.Invitations.MaxExpirationDays = fc.Invitations.MaxExpirationDays
		}
		if fc.Invitations.LinkMode != "" {
			cfg.Invitations.LinkMode = fc.Invitations.LinkMode
		}
	}

	if fc.Sweeper != nil {
		if fc.Sweeper.Enabled != nil {
			cfg.Sweeper.Enabled = *fc.Sweeper.Enabled
		}
		if fc.Sweeper.IntervalSeconds != 0 {
			cfg.Sweeper.IntervalSeconds = fc.Sweeper.IntervalSeconds
		}
	}

	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if fc.Store.DataDir != "" {
			cfg.Store.DataDir = fc.Store.DataDir
		}
		if len(fc.Store.Drivers) > 0 {
			cfg.Store.Drivers = fc.Store.Drivers
		}
	}

	// An explicit empty list turns CORS off.
	if fc.CORS != nil && fc.CORS.AllowedOrigins != nil {
		cfg.CORS.AllowedOrigins = fc.CORS.AllowedOrigins
	}

	if fc.Webhook != nil {
		if fc.Webhook.URL != "" {
			cfg.Webhook.URL = fc.Webhook.URL
		}
		if fc.Webhook.Secret != "" {
			cfg.Webhook.Secret = fc.Webhook.Secret
		}
		if fc.Webhook.SSRFMode != "" {
			cfg.Webhook.SSRFMode = fc.Webhook.SSRFMode
		}
		if fc.Webhook.TimeoutMS != 0 {
			cfg.Webhook.TimeoutMS = fc.Webhook.TimeoutMS
		}
		if fc.Webhook.RootCAFile != "" {
			cfg.Webhook.RootCAFile = fc.Webhook.RootCAFile
		}
	}

	if fc.RateLimit != nil {
		if fc.RateLimit.Enabled != nil {
			cfg.RateLimit.Enabled = *fc.RateLimit.Enabled
		}
		if fc.RateLimit.RequestsPerWindow != 0 {
			cfg.RateLimit.RequestsPerWindow = fc.RateLimit.RequestsPerWindow
		}
		if fc.RateLimit.WindowSeconds != 0 {
			cfg.RateLimit.WindowSeconds = fc.RateLimit.WindowSeconds
		}
	}

	if fc.Cache != nil {
		if fc.Cache.Driver != "" {
			cfg.Cache.Driver = fc.Cache.Driver
		}
		if len(fc.Cache.Drivers) > 0 {
			cfg.Cache.Drivers = fc.Cache.Drivers
		}
	}

	if len(fc.Contacts) > 0 {
		cfg.Contacts = fc.Contacts
	}
	if len(fc.Teams) > 0 {
		cfg.Teams = fc.Teams
	}

	if fc.HTTP != nil && len(fc.HTTP.Services) > 0 {
		if cfg.HTTP.Services == nil {
			cfg.HTTP.Services = make(map[string]map[string]any)
		}
		for name, svcCfg := range fc.HTTP.Services {
			cfg.HTTP.Services[name] = svcCfg
		}
	}
}

func overlayTLS(dst *TLSConfig, src *tlsConfig) {
	setString(&dst.Mode, &src.Mode)
	setString(&dst.CertFile, &src.CertFile)
	setString(&dst.KeyFile, &src.KeyFile)
	setString(&dst.SelfSignedDir, &src.SelfSignedDir)
	setString(&dst.Hostname, &src.Hostname)
	if src.ACME == nil {
		return
	}
	a := src.ACME
	setString(&dst.ACME.Email, &a.Email)
	setString(&dst.ACME.Domain, &a.Domain)
	setString(&dst.ACME.StorageDir, &a.StorageDir)
	setString(&dst.ACME.Directory, &a.Directory)
	setString(&dst.ACME.HTTPAddr, &a.HTTPAddr)
	setString(&dst.ACME.RootCAFile, &a.RootCAFile)
	setString(&dst.ACME.RootCADir, &a.RootCADir)
	if a.UseStaging != nil {
		dst.ACME.UseStaging = *a.UseStaging
	}
}

// overlayEnv applies CIRCLEINVITE_* values onto cfg.
func overlayEnv(cfg *Config, ev *envOverrides) {
	setString(&cfg.ListenAddr, ev.ListenAddr)
	setString(&cfg.Logging.Level, ev.LoggingLevel)
	setString(&cfg.Auth.JWTSecret, ev.JWTSecret)
	setString(&cfg.Store.Driver, ev.StoreDriver)
	setString(&cfg.Store.DataDir, ev.StoreDataDir)
	setString(&cfg.Invitations.LinkMode, ev.LinkMode)
	setString(&cfg.Webhook.URL, ev.WebhookURL)
	setString(&cfg.Webhook.Secret, ev.WebhookSecret)
	setString(&cfg.Cache.Driver, ev.CacheDriver)
	setString(&cfg.Server.TLS.Mode, ev.TLSMode)
	setString(&cfg.PublicOrigin, ev.PublicOrigin)
	if ev.SweeperEnabled != nil {
		cfg.Sweeper.Enabled = *ev.SweeperEnabled
	}
	if len(ev.AllowedOrigins) > 0 {
		cfg.CORS.AllowedOrigins = ev.AllowedOrigins
	}
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	setString(&cfg.ListenAddr, f.ListenAddr)
	setString(&cfg.Logging.Level, f.LoggingLevel)
	setString(&cfg.Store.Driver, f.StoreDriver)
	setString(&cfg.Store.DataDir, f.StoreDataDir)
	setString(&cfg.Invitations.LinkMode, f.LinkMode)
	setString(&cfg.Server.TLS.Mode, f.TLSMode)
	if f.SweeperEnabled != nil && *f.SweeperEnabled != "" {
		// only apply when explicitly set
		cfg.Sweeper.Enabled = *f.SweeperEnabled == "true"
	}
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

// validateEnums validates enum-like config fields and returns an error for invalid values.
func validateEnums(cfg *Config) error {
	// mode is already validated by ParseMode before we get here

	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of trace, debug, info, warn, error", cfg.Logging.Level)
	}

	switch cfg.Store.Driver {
	case "memory", "json", "sqlite", "postgres", "dynamodb":
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of memory, json, sqlite, postgres, dynamodb", cfg.Store.Driver)
	}

	switch cfg.Invitations.LinkMode {
	case "random", "jwt":
	default:
		return fmt.Errorf("invalid invitations.link_mode %q: must be one of random, jwt", cfg.Invitations.LinkMode)
	}

	switch cfg.Webhook.SSRFMode {
	case "strict", "off":
	default:
		return fmt.Errorf("invalid webhook.ssrf_mode %q: must be one of strict, off", cfg.Webhook.SSRFMode)
	}

	switch cfg.Cache.Driver {
	case "memory", "valkey":
	default:
		return fmt.Errorf("invalid cache.driver %q: must be one of memory, valkey", cfg.Cache.Driver)
	}

	switch cfg.Server.TLS.Mode {
	case "off", "static", "selfsigned", "acme":
	default:
		return fmt.Errorf("invalid server.tls.mode %q: must be one of off, static, selfsigned, acme", cfg.Server.TLS.Mode)
	}

	return nil
}

// validate checks cross-field constraints.
func validate(cfg *Config) error {
	if len(cfg.Auth.JWTSecret) < minSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes (set it in the config file or %sJWT_SECRET)", minSecretLen, EnvPrefix)
	}
	if cfg.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}

	inv := cfg.Invitations
	if inv.DefaultExpirationDays < 1 {
		return fmt.Errorf("invitations.default_expiration_days must be at least 1")
	}
	if inv.MaxExpirationDays < 0 {
		return fmt.Errorf("invitations.max_expiration_days must not be negative")
	}
	if inv.MaxExpirationDays > 0 && inv.DefaultExpirationDays > inv.MaxExpirationDays {
		return fmt.Errorf("invitations.default_expiration_days (%d) exceeds max_expiration_days (%d)",
			inv.DefaultExpirationDays, inv.MaxExpirationDays)
	}

	if cfg.Sweeper.Enabled && cfg.Sweeper.IntervalSeconds <= 0 {
		return fmt.Errorf("sweeper.interval_seconds must be positive when the sweeper is enabled")
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.RequestsPerWindow <= 0 || cfg.RateLimit.WindowSeconds <= 0) {
		return fmt.Errorf("ratelimit.requests_per_window and ratelimit.window_seconds must be positive when rate limiting is enabled")
	}

	tlsCfg := cfg.Server.TLS
	switch tlsCfg.Mode {
	case "static":
		if tlsCfg.CertFile == "" || tlsCfg.KeyFile == "" {
			return fmt.Errorf("server.tls.cert_file and server.tls.key_file are required in static mode")
		}
	case "selfsigned":
		if tlsCfg.SelfSignedDir == "" {
			return fmt.Errorf("server.tls.selfsigned_dir is required in selfsigned mode")
		}
	case "acme":
		if tlsCfg.ACME.Email == "" || tlsCfg.ACME.Domain == "" || tlsCfg.ACME.StorageDir == "" {
			return fmt.Errorf("server.tls.acme.email, domain and storage_dir are required in acme mode")
		}
	}

	switch cfg.Store.Driver {
	case "json", "sqlite":
		if cfg.Store.DataDir == "" {
			return fmt.Errorf("store.data_dir is required for the %s driver", cfg.Store.Driver)
		}
	}

	if cfg.ExternalBasePath != "" {
		if !strings.HasPrefix(cfg.ExternalBasePath, "/") || strings.HasSuffix(cfg.ExternalBasePath, "/") {
			return fmt.Errorf("invalid external_base_path %q: must start with '/' and not end with '/'", cfg.ExternalBasePath)
		}
	}

	if cfg.PublicOrigin != "" {
		origin, err := publicorigin.Normalize(cfg.PublicOrigin)
		if err != nil {
			return fmt.Errorf("invalid public_origin: %w", err)
		}
		cfg.PublicOrigin = origin
		if cfg.Server.TLS.Hostname == "" {
			cfg.Server.TLS.Hostname, _ = publicorigin.Hostname(origin)
		}
	}

	if cfg.Webhook.URL != "" {
		u, err := url.Parse(cfg.Webhook.URL)
		if err != nil {
			return fmt.Errorf("invalid webhook.url %q: %w", cfg.Webhook.URL, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid webhook.url %q: must be an absolute http or https URL", cfg.Webhook.URL)
		}
	}

	for i, t := range cfg.Teams {
		if t.TargetType != "organization" && t.TargetType != "project" {
			return fmt.Errorf("teams[%d].target_type %q: must be organization or project", i, t.TargetType)
		}
		if t.TargetID == "" {
			return fmt.Errorf("teams[%d].target_id is required", i)
		}
	}
	for i, c := range cfg.Contacts {
		if c.Owner == "" || c.Email == "" {
			return fmt.Errorf("contacts[%d]: owner and email are required", i)
		}
	}

	return nil
}
