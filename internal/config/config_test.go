package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "home:\n  country: es\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ES", cfg.Home.Country)
	assert.Equal(t, []string{"dni", "nie"}, cfg.Home.DocumentTypes)
	assert.Equal(t, []string{"cloudbeds.com"}, cfg.Host.Domains)
	assert.Equal(t, "http://127.0.0.1:9222", cfg.Browser.RemoteURL)
	assert.Equal(t, 60, cfg.Browser.TimeoutSec)
	assert.True(t, cfg.Upload.Enabled)
	assert.False(t, cfg.Upload.Concurrent)
	assert.Equal(t, 30, cfg.Upload.TimeoutSec)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "history.db", filepath.Base(cfg.History.Path))
	assert.Equal(t, 90, cfg.History.RetentionDays)
	assert.Equal(t, defaultServerPort, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
home:
  country: PT
  document_types: [cc]
host:
  domains: [example.org]
  require_edit_mode: true
browser:
  remote_url: ws://127.0.0.1:9333/devtools/browser/abc
  timeout_sec: 15
upload:
  enabled: false
  concurrent: true
  timeout_sec: 10
timing:
  country_settle_ms: 900
  wizard_attempts: 5
history:
  enabled: false
  path: /var/lib/guestfill/journal.db
server:
  port: 9000
  allowed_origin: chrome-extension://abcdef
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidateServer())

	assert.Equal(t, "PT", cfg.Home.Country)
	assert.Equal(t, []string{"cc"}, cfg.Home.DocumentTypes)
	assert.True(t, cfg.Host.RequireEditMode)
	assert.False(t, cfg.Upload.Enabled)
	assert.True(t, cfg.Upload.Concurrent)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, "/var/lib/guestfill/journal.db", cfg.History.Path)

	bc := cfg.BrowserConfig()
	assert.Equal(t, 15*time.Second, bc.Timeout)
	assert.Equal(t, []string{"example.org"}, bc.HostDomains)

	timing := cfg.FillerTiming()
	assert.Equal(t, 900*time.Millisecond, timing.CountrySettle)
	assert.Equal(t, 5, timing.WizardAttempts)
	assert.Equal(t, 10*time.Second, timing.UploadTimeout)
	assert.Equal(t, 800*time.Millisecond, timing.EditSettle, "unset values keep the default")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "home: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoadVisionKeyFromEnv(t *testing.T) {
	t.Setenv("GUESTFILL_VISION_API_KEY", "sk-env")
	cfg, err := Load(writeConfig(t, "vision:\n  api_key: sk-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.Vision.APIKey)
	assert.NoError(t, cfg.ValidateVision())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Vision.APIKey = "sk-test"

	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestCheckFilePermissions(t *testing.T) {
	path := writeConfig(t, "{}")
	assert.NoError(t, checkFilePermissions(path))

	require.NoError(t, os.Chmod(path, 0644))
	assert.ErrorContains(t, checkFilePermissions(path), "insecure permissions")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad country", func(c *Config) { c.Home.Country = "ESP" }, "home: country"},
		{"no domains", func(c *Config) { c.Host.Domains = nil }, "host: at least one domain"},
		{"no browser", func(c *Config) { c.Browser.RemoteURL = "" }, "browser: remote_url"},
		{"launched browser", func(c *Config) {
			c.Browser.RemoteURL = ""
			c.Browser.UserDataDir = "/tmp/profile"
			c.Host.GuestURL = "https://hotels.cloudbeds.com/connect"
		}, ""},
		{"negative timeout", func(c *Config) { c.Upload.TimeoutSec = -1 }, "timeouts"},
		{"bad level", func(c *Config) { c.Log.Level = "trace" }, "log: unknown level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log: unknown format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateVisionAndServer(t *testing.T) {
	cfg := Default()
	assert.ErrorContains(t, cfg.ValidateVision(), "api_key")
	assert.NoError(t, cfg.ValidateServer())

	cfg.Server.AllowedOrigin = "abcdef"
	assert.ErrorContains(t, cfg.ValidateServer(), "allowed_origin")

	cfg.Server.AllowedOrigin = ""
	cfg.Server.Port = 70000
	assert.ErrorContains(t, cfg.ValidateServer(), "invalid port")
}

func TestDefaultConfigPath(t *testing.T) {
	assert.True(t, strings.HasSuffix(DefaultConfigPath(), filepath.Join(".guestfill", "config.yaml")))
}
