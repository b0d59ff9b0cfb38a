package config

import (
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/link-connect/api"
	errs "github.com/alexjbarnes/link-connect/internal/errors"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for linkctl.
type Config struct {
	// Publishable key sent with every API request (required).
	PublishableKey string `env:"LINK_PUBLISHABLE_KEY"`

	// API root and version header.
	APIBaseURL     string        `env:"LINK_API_BASE_URL" envDefault:"https://api.stripe.com/v1/"`
	APIVersion     string        `env:"LINK_API_VERSION" envDefault:"2020-08-27"`
	RequestTimeout time.Duration `env:"LINK_REQUEST_TIMEOUT" envDefault:"30s"`

	// Financial Connections session secret. Only the connect command needs it.
	ClientSecret string `env:"LINK_FC_CLIENT_SECRET"`

	// Scheme the external auth browser redirects back to.
	CallbackScheme string `env:"LINK_CALLBACK_SCHEME" envDefault:"stripe-auth"`

	// Polling for oauth_results and accounts.
	PollInterval    time.Duration `env:"LINK_POLL_INTERVAL" envDefault:"1s"`
	MaxPollAttempts int           `env:"LINK_MAX_POLL_ATTEMPTS" envDefault:"60"`

	// State database. Defaults to ~/.link-connect/state.db. A passphrase
	// seals the stored session cookie.
	StatePath       string `env:"LINK_STATE_PATH"`
	StatePassphrase string `env:"LINK_STATE_PASSPHRASE"`

	// Prometheus listener. Empty disables it.
	MetricsAddr string `env:"METRICS_ADDR"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the publishable key and state passphrase.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath == "" {
		p, err := DefaultStatePath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = p
	} else {
		abs, err := filepath.Abs(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
		}

		cfg.StatePath = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.PublishableKey == "" {
		return errs.ErrMissingPublishableKey
	}

	if !strings.HasPrefix(c.PublishableKey, "pk_") {
		return fmt.Errorf("LINK_PUBLISHABLE_KEY must start with %q", "pk_")
	}

	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("LINK_API_BASE_URL is not a valid URL: %q", c.APIBaseURL)
	}

	if u.Scheme != "https" && !isLoopback(u.Hostname()) {
		return fmt.Errorf("LINK_API_BASE_URL must use https unless it points at localhost")
	}

	if !validScheme(c.CallbackScheme) {
		return fmt.Errorf("LINK_CALLBACK_SCHEME is not a valid URL scheme: %q", c.CallbackScheme)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("LINK_POLL_INTERVAL must be positive")
	}

	if c.MaxPollAttempts <= 0 {
		return fmt.Errorf("LINK_MAX_POLL_ATTEMPTS must be positive")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("LINK_REQUEST_TIMEOUT must be positive")
	}

	if _, err := c.Level(); err != nil {
		return err
	}

	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// validScheme follows RFC 3986: ALPHA *( ALPHA / DIGIT / "+" / "-" / "." ).
func validScheme(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}

	return true
}

// Level parses LOG_LEVEL. Empty returns the environment default: info in
// production, debug otherwise.
func (c *Config) Level() (slog.Level, error) {
	if c.LogLevel == "" {
		if c.IsProduction() {
			return slog.LevelInfo, nil
		}

		return slog.LevelDebug, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: %q", c.LogLevel)
	}

	return level, nil
}

// RequireClientSecret returns ErrMissingClientSecret when no Financial
// Connections secret is configured.
func (c *Config) RequireClientSecret() error {
	if c.ClientSecret == "" {
		return errs.ErrMissingClientSecret
	}

	return nil
}

// APIConfig converts the transport settings to an api.Config.
func (c *Config) APIConfig(observer api.Observer) api.Config {
	return api.Config{
		BaseURL:        c.APIBaseURL,
		PublishableKey: c.PublishableKey,
		APIVersion:     c.APIVersion,
		Timeout:        c.RequestTimeout,
		Observer:       observer,
	}
}

// DefaultStatePath returns ~/.link-connect/state.db.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".link-connect", "state.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
