package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	errs "github.com/alexjbarnes/link-connect/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"LINK_PUBLISHABLE_KEY",
		"LINK_API_BASE_URL",
		"LINK_API_VERSION",
		"LINK_REQUEST_TIMEOUT",
		"LINK_FC_CLIENT_SECRET",
		"LINK_CALLBACK_SCHEME",
		"LINK_POLL_INTERVAL",
		"LINK_MAX_POLL_ATTEMPTS",
		"LINK_STATE_PATH",
		"LINK_STATE_PASSPHRASE",
		"METRICS_ADDR",
		"ENVIRONMENT",
		"LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setMinimalEnv sets the env vars every command needs.
func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LINK_PUBLISHABLE_KEY", "pk_test_123")
	t.Setenv("LINK_STATE_PATH", filepath.Join(t.TempDir(), "state.db"))
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "pk_test_123", cfg.PublishableKey)
	assert.Equal(t, "https://api.stripe.com/v1/", cfg.APIBaseURL)
	assert.Equal(t, "2020-08-27", cfg.APIVersion)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "stripe-auth", cfg.CallbackScheme)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 60, cfg.MaxPollAttempts)
	assert.Empty(t, cfg.MetricsAddr)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("LINK_API_BASE_URL", "http://localhost:12111/v1/")
	t.Setenv("LINK_CALLBACK_SCHEME", "myapp+auth")
	t.Setenv("LINK_POLL_INTERVAL", "250ms")
	t.Setenv("LINK_MAX_POLL_ATTEMPTS", "5")
	t.Setenv("LINK_FC_CLIENT_SECRET", "fcsess_secret")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:12111/v1/", cfg.APIBaseURL)
	assert.Equal(t, "myapp+auth", cfg.CallbackScheme)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 5, cfg.MaxPollAttempts)
	assert.True(t, cfg.IsProduction())
	assert.NoError(t, cfg.RequireClientSecret())
}

func TestLoad_MissingPublishableKey(t *testing.T) {
	clearConfigEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrMissingPublishableKey)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"secret key instead of publishable", "LINK_PUBLISHABLE_KEY", "sk_test_123"},
		{"plain http to remote host", "LINK_API_BASE_URL", "http://api.example.com/v1/"},
		{"url without host", "LINK_API_BASE_URL", "not a url"},
		{"scheme starting with digit", "LINK_CALLBACK_SCHEME", "1auth"},
		{"scheme with colon", "LINK_CALLBACK_SCHEME", "stripe:auth"},
		{"zero poll interval", "LINK_POLL_INTERVAL", "0s"},
		{"zero attempts", "LINK_MAX_POLL_ATTEMPTS", "0"},
		{"unknown log level", "LOG_LEVEL", "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			setMinimalEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_UnparsableDuration(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("LINK_POLL_INTERVAL", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoad_StatePathResolvedAbsolute(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("LINK_STATE_PATH", "relative/state.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.StatePath))
	assert.Equal(t, "state.db", filepath.Base(cfg.StatePath))
}

func TestLoad_DefaultStatePath(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("LINK_PUBLISHABLE_KEY", "pk_test_123")
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".link-connect", "state.db"), cfg.StatePath)
}

// --- Level ---

func TestLevel(t *testing.T) {
	tests := []struct {
		env   string
		level string
		want  slog.Level
	}{
		{"development", "", slog.LevelDebug},
		{"production", "", slog.LevelInfo},
		{"production", "warn", slog.LevelWarn},
		{"development", "ERROR", slog.LevelError},
	}

	for _, tt := range tests {
		c := &Config{Environment: tt.env, LogLevel: tt.level}
		got, err := c.Level()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "env=%q level=%q", tt.env, tt.level)
	}
}

// --- RequireClientSecret ---

func TestRequireClientSecret(t *testing.T) {
	c := &Config{}
	assert.ErrorIs(t, c.RequireClientSecret(), errs.ErrMissingClientSecret)

	c.ClientSecret = "fcsess_secret"
	assert.NoError(t, c.RequireClientSecret())
}

// --- APIConfig ---

func TestAPIConfig(t *testing.T) {
	c := &Config{
		PublishableKey: "pk_test_123",
		APIBaseURL:     "https://api.example.com/v1/",
		APIVersion:     "2020-08-27",
		RequestTimeout: 5 * time.Second,
	}

	got := c.APIConfig(nil)
	assert.Equal(t, "pk_test_123", got.PublishableKey)
	assert.Equal(t, "https://api.example.com/v1/", got.BaseURL)
	assert.Equal(t, 5*time.Second, got.Timeout)
	assert.Nil(t, got.Observer)
}

// --- warnInsecureEnvFile ---

func TestWarnInsecureEnvFile_NoFile(t *testing.T) {
	t.Chdir(t.TempDir())
	warnInsecureEnvFile()
}

func TestWarnInsecureEnvFile_WorldReadable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LINK_PUBLISHABLE_KEY=pk_test_1\n"), 0o644))
	t.Chdir(dir)
	warnInsecureEnvFile()
}
