package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Billing sources a resolver can be built for.
const (
	BillingSourceStripe   = "stripe"
	BillingSourceFunction = "function"
)

// Durable marker backends.
const (
	MarkerBackendSQLite = "sqlite"
	MarkerBackendRedis  = "redis"
	MarkerBackendMemory = "memory"
)

const defaultDataDir = "/var/lib/plansync"

// Config holds the runtime configuration of the plansync service.
type Config struct {
	DataDir     string
	ListenAddr  string
	MetricsAddr string
	LogLevel    string
	LogFormat   string

	// CheckWindow is how long a successful check suppresses non-forced syncs.
	CheckWindow       time.Duration
	AuthSettleDelay   time.Duration
	AutoCheckInterval time.Duration
	ResolveTimeout    time.Duration

	BillingSource   string
	StripeSecretKey string
	FunctionURL     string

	MarkerBackend string
	RedisURL      string

	OIDCIssuerURL string
	OIDCClientID  string

	AllowedOrigins []string
	DNSCacheTTL    time.Duration

	// Track which settings are overridden by environment variables
	EnvOverrides map[string]bool `json:"-"`
}

// Default returns the configuration used when nothing is overridden.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:           dataDir,
		ListenAddr:        ":8080",
		MetricsAddr:       ":9091",
		LogLevel:          "info",
		LogFormat:         "auto",
		CheckWindow:       15 * time.Minute,
		AuthSettleDelay:   time.Second,
		AutoCheckInterval: 5 * time.Minute,
		ResolveTimeout:    30 * time.Second,
		BillingSource:     BillingSourceStripe,
		MarkerBackend:     MarkerBackendSQLite,
		DNSCacheTTL:       5 * time.Minute,
		EnvOverrides:      make(map[string]bool),
	}
}

// EnvPath returns the deployment .env file inside the data directory.
func (c *Config) EnvPath() string {
	return filepath.Join(c.DataDir, ".env")
}

// MarkerDBPath returns the SQLite file used for durable markers.
func (c *Config) MarkerDBPath() string {
	return filepath.Join(c.DataDir, "markers.db")
}

// Load reads configuration from .env files and the environment.
func Load() (*Config, error) {
	dataDir := defaultDataDir
	if dir := strings.TrimSpace(os.Getenv("PLANSYNC_DATA_DIR")); dir != "" {
		dataDir = dir
	}

	// Load .env file if it exists (for deployment overrides)
	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file for deployment overrides")
		}
	}

	// Also try loading from current directory for development
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	cfg := Default(dataDir)
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strVars := []struct {
		env   string
		key   string
		field *string
		lower bool
	}{
		{"PLANSYNC_LISTEN_ADDR", "listenAddr", &c.ListenAddr, false},
		{"PLANSYNC_METRICS_ADDR", "metricsAddr", &c.MetricsAddr, false},
		{"PLANSYNC_LOG_LEVEL", "logLevel", &c.LogLevel, true},
		{"PLANSYNC_LOG_FORMAT", "logFormat", &c.LogFormat, true},
		{"PLANSYNC_BILLING_SOURCE", "billingSource", &c.BillingSource, true},
		{"PLANSYNC_STRIPE_SECRET_KEY", "stripeSecretKey", &c.StripeSecretKey, false},
		{"PLANSYNC_FUNCTION_URL", "functionURL", &c.FunctionURL, false},
		{"PLANSYNC_MARKER_BACKEND", "markerBackend", &c.MarkerBackend, true},
		{"PLANSYNC_REDIS_URL", "redisURL", &c.RedisURL, false},
		{"PLANSYNC_OIDC_ISSUER_URL", "oidcIssuerURL", &c.OIDCIssuerURL, false},
		{"PLANSYNC_OIDC_CLIENT_ID", "oidcClientID", &c.OIDCClientID, false},
	}
	for _, v := range strVars {
		raw := strings.TrimSpace(os.Getenv(v.env))
		if raw == "" {
			continue
		}
		if v.lower {
			raw = strings.ToLower(raw)
		}
		*v.field = raw
		c.EnvOverrides[v.key] = true
	}

	durVars := []struct {
		env   string
		key   string
		field *time.Duration
	}{
		{"PLANSYNC_CHECK_WINDOW", "checkWindow", &c.CheckWindow},
		{"PLANSYNC_AUTH_SETTLE_DELAY", "authSettleDelay", &c.AuthSettleDelay},
		{"PLANSYNC_AUTO_CHECK_INTERVAL", "autoCheckInterval", &c.AutoCheckInterval},
		{"PLANSYNC_RESOLVE_TIMEOUT", "resolveTimeout", &c.ResolveTimeout},
		{"PLANSYNC_DNS_CACHE_TTL", "dnsCacheTTL", &c.DNSCacheTTL},
	}
	for _, v := range durVars {
		raw := strings.TrimSpace(os.Getenv(v.env))
		if raw == "" {
			continue
		}
		d, err := parseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", v.env, err)
		}
		*v.field = d
		c.EnvOverrides[v.key] = true
		log.Debug().Dur("value", d).Str("env", v.env).Msg("Duration overridden by env var")
	}

	if raw := strings.TrimSpace(os.Getenv("PLANSYNC_ALLOWED_ORIGINS")); raw != "" {
		c.AllowedOrigins = splitList(raw)
		c.EnvOverrides["allowedOrigins"] = true
		log.Info().Strs("origins", c.AllowedOrigins).Msg("Allowed origins overridden by PLANSYNC_ALLOWED_ORIGINS env var")
	}
	return nil
}

// parseDuration accepts Go durations and bare integers as seconds.
func parseDuration(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(raw)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.CheckWindow <= 0 {
		return fmt.Errorf("check window must be positive")
	}
	if c.AuthSettleDelay < 0 {
		return fmt.Errorf("auth settle delay must not be negative")
	}
	if c.AutoCheckInterval < time.Second {
		return fmt.Errorf("auto check interval must be at least 1 second")
	}
	if c.ResolveTimeout < time.Second {
		return fmt.Errorf("resolve timeout must be at least 1 second")
	}

	switch c.BillingSource {
	case BillingSourceStripe, BillingSourceFunction:
	default:
		return fmt.Errorf("unknown billing source %q", c.BillingSource)
	}
	if c.FunctionURL != "" {
		if err := validateHTTPURL(c.FunctionURL); err != nil {
			return fmt.Errorf("function url: %w", err)
		}
	}

	switch c.MarkerBackend {
	case MarkerBackendSQLite, MarkerBackendMemory:
	case MarkerBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis marker backend requires PLANSYNC_REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown marker backend %q", c.MarkerBackend)
	}

	if (c.OIDCIssuerURL == "") != (c.OIDCClientID == "") {
		return fmt.Errorf("oidc issuer url and client id must be set together")
	}
	if c.OIDCIssuerURL != "" {
		if err := validateHTTPURL(c.OIDCIssuerURL); err != nil {
			return fmt.Errorf("oidc issuer url: %w", err)
		}
	}
	return nil
}

// ValidateResolver checks that the selected billing source has credentials.
// Commands that never resolve (marker inspection) skip this.
func (c *Config) ValidateResolver() error {
	switch c.BillingSource {
	case BillingSourceStripe:
		if c.StripeSecretKey == "" {
			return fmt.Errorf("stripe billing source requires PLANSYNC_STRIPE_SECRET_KEY")
		}
	case BillingSourceFunction:
		if c.FunctionURL == "" {
			return fmt.Errorf("function billing source requires PLANSYNC_FUNCTION_URL")
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must start with http:// or https://")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
