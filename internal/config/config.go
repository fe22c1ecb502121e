package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hostalscan/guestfill/internal/browser"
	"github.com/hostalscan/guestfill/internal/filler"
	"github.com/hostalscan/guestfill/internal/history"
)

const (
	defaultHomeCountry   = "ES"
	defaultServerPort    = 8765
	defaultRatePerMinute = 30
	defaultVisionModel   = "gpt-4o"
	defaultVisionURL     = "https://api.openai.com/v1/chat/completions"
	defaultMaxTokens     = 1500
	defaultVisionTimeout = 60
	defaultRetentionDays = 90
)

var defaultDocumentTypes = []string{"dni", "nie"}

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Home     Home     `yaml:"home"`
	Host     Host     `yaml:"host"`
	Browser  Browser  `yaml:"browser"`
	Timing   Timing   `yaml:"timing,omitempty"`
	Upload   Upload   `yaml:"upload"`
	Vision   Vision   `yaml:"vision,omitempty"`
	Datasets Datasets `yaml:"datasets,omitempty"`
	History  History  `yaml:"history"`
	Server   Server   `yaml:"server"`
	Log      Log      `yaml:"log"`
}

// Home identifies the property's country and which documents mark a
// domestic resident.
type Home struct {
	Country       string   `yaml:"country"`        // ISO alpha-2, e.g. "ES"
	DocumentTypes []string `yaml:"document_types"` // e.g. dni, nie
}

// Host describes where the guest form lives.
type Host struct {
	Domains         []string `yaml:"domains"`
	GuestURL        string   `yaml:"guest_url,omitempty"` // opened when no host tab is attached
	RequireEditMode bool     `yaml:"require_edit_mode"`
}

// Browser holds Chrome connection settings
type Browser struct {
	RemoteURL    string `yaml:"remote_url"` // e.g. http://127.0.0.1:9222
	UserDataDir  string `yaml:"user_data_dir,omitempty"`
	Headless     bool   `yaml:"headless"`
	TimeoutSec   int    `yaml:"timeout_sec"`
	UserAgent    string `yaml:"user_agent,omitempty"`
	WindowWidth  int    `yaml:"window_width,omitempty"`
	WindowHeight int    `yaml:"window_height,omitempty"`
}

// Timing overrides the page settle delays. Zero keeps the built-in value.
type Timing struct {
	EditSettleMs         int `yaml:"edit_settle_ms,omitempty"`
	PostEditSettleMs     int `yaml:"post_edit_settle_ms,omitempty"`
	CountrySettleMs      int `yaml:"country_settle_ms,omitempty"`
	DocumentSweepDelayMs int `yaml:"document_sweep_delay_ms,omitempty"`
	ModalCloseMs         int `yaml:"modal_close_ms,omitempty"`
	DropzonePollMs       int `yaml:"dropzone_poll_ms,omitempty"`
	DropzoneAttempts     int `yaml:"dropzone_attempts,omitempty"`
	DropCheckMs          int `yaml:"drop_check_ms,omitempty"`
	WizardPollMs         int `yaml:"wizard_poll_ms,omitempty"`
	WizardAttempts       int `yaml:"wizard_attempts,omitempty"`
	StepDonePauseMs      int `yaml:"step_done_pause_ms,omitempty"`
	StepSavePauseMs      int `yaml:"step_save_pause_ms,omitempty"`
	StepOKPauseMs        int `yaml:"step_ok_pause_ms,omitempty"`
	UploadStartDelayMs   int `yaml:"upload_start_delay_ms,omitempty"`
}

// Upload controls the document photo upload.
type Upload struct {
	Enabled    bool `yaml:"enabled"`
	Concurrent bool `yaml:"concurrent"` // upload while the form fills
	TimeoutSec int  `yaml:"timeout_sec"`
}

// Vision holds the document extraction API settings
type Vision struct {
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	MaxTokens  int    `yaml:"max_tokens"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Datasets points at a directory whose YAML files replace the embedded
// reference data.
type Datasets struct {
	Dir string `yaml:"dir,omitempty"`
}

// History configures the local journal of fill outcomes.
type History struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path,omitempty"`
	RetentionDays int    `yaml:"retention_days,omitempty"`
}

// Server configures the HTTP bridge used by the extension.
type Server struct {
	Port          int    `yaml:"port"`
	AllowedOrigin string `yaml:"allowed_origin,omitempty"` // e.g. chrome-extension://<id>
	RatePerMinute int    `yaml:"rate_per_minute"`
	MaxBodyMB     int    `yaml:"max_body_mb,omitempty"`
	ShutdownSec   int    `yaml:"shutdown_sec,omitempty"`
}

type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".guestfill", "config.yaml")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Upload.Enabled = true
	cfg.History.Enabled = true
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	if err := checkFilePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{Upload: Upload{Enabled: true}, History: History{Enabled: true}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	if key := os.Getenv("GUESTFILL_VISION_API_KEY"); key != "" {
		cfg.Vision.APIKey = key
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Home.Country == "" {
		c.Home.Country = defaultHomeCountry
	}
	c.Home.Country = strings.ToUpper(c.Home.Country)
	if len(c.Home.DocumentTypes) == 0 {
		c.Home.DocumentTypes = append([]string(nil), defaultDocumentTypes...)
	}
	if len(c.Host.Domains) == 0 {
		c.Host.Domains = append([]string(nil), browser.DefaultHostDomains...)
	}

	b := browser.DefaultConfig()
	if c.Browser.RemoteURL == "" && c.Browser.UserDataDir == "" {
		c.Browser.RemoteURL = b.RemoteURL
	}
	if c.Browser.TimeoutSec == 0 {
		c.Browser.TimeoutSec = int(b.Timeout / time.Second)
	}
	if c.Browser.UserAgent == "" {
		c.Browser.UserAgent = b.UserAgent
	}
	if c.Browser.WindowWidth == 0 {
		c.Browser.WindowWidth = b.WindowWidth
	}
	if c.Browser.WindowHeight == 0 {
		c.Browser.WindowHeight = b.WindowHeight
	}

	if c.Upload.TimeoutSec == 0 {
		c.Upload.TimeoutSec = int(filler.DefaultTiming().UploadTimeout / time.Second)
	}

	if c.Vision.Endpoint == "" {
		c.Vision.Endpoint = defaultVisionURL
	}
	if c.Vision.Model == "" {
		c.Vision.Model = defaultVisionModel
	}
	if c.Vision.MaxTokens == 0 {
		c.Vision.MaxTokens = defaultMaxTokens
	}
	if c.Vision.TimeoutSec == 0 {
		c.Vision.TimeoutSec = defaultVisionTimeout
	}

	if c.History.Path == "" {
		c.History.Path = history.DefaultPath()
	}
	if c.History.RetentionDays == 0 {
		c.History.RetentionDays = defaultRetentionDays
	}

	if c.Server.Port == 0 {
		c.Server.Port = defaultServerPort
	}
	if c.Server.RatePerMinute == 0 {
		c.Server.RatePerMinute = defaultRatePerMinute
	}
	if c.Server.MaxBodyMB == 0 {
		c.Server.MaxBodyMB = 20
	}
	if c.Server.ShutdownSec == 0 {
		c.Server.ShutdownSec = 5
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	if len(c.Home.Country) != 2 {
		return fmt.Errorf("home: country must be an ISO alpha-2 code, got %q", c.Home.Country)
	}
	if len(c.Host.Domains) == 0 {
		return fmt.Errorf("host: at least one domain is required")
	}
	if c.Browser.RemoteURL == "" && c.Browser.UserDataDir == "" && c.Host.GuestURL == "" {
		return fmt.Errorf("browser: remote_url is required unless user_data_dir and host.guest_url are set")
	}
	if c.Browser.TimeoutSec < 0 || c.Upload.TimeoutSec < 0 || c.History.RetentionDays < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log: unknown format %q (console or json)", c.Log.Format)
	}
	return nil
}

// ValidateVision validates the extraction API settings (only called by
// commands that scan documents)
func (c *Config) ValidateVision() error {
	if c.Vision.Endpoint == "" {
		return fmt.Errorf("vision: endpoint is required")
	}
	if c.Vision.Model == "" {
		return fmt.Errorf("vision: model is required")
	}
	if c.Vision.APIKey == "" {
		return fmt.Errorf("vision: api_key is required (or set GUESTFILL_VISION_API_KEY)")
	}
	return nil
}

// ValidateServer validates the HTTP bridge settings.
func (c *Config) ValidateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	if c.Server.AllowedOrigin != "" && !strings.Contains(c.Server.AllowedOrigin, "://") {
		return fmt.Errorf("server: allowed_origin must be a full origin such as chrome-extension://<id>")
	}
	return nil
}

// BrowserConfig converts the browser section for the browser package.
func (c *Config) BrowserConfig() browser.Config {
	return browser.Config{
		RemoteURL:    c.Browser.RemoteURL,
		UserDataDir:  c.Browser.UserDataDir,
		Headless:     c.Browser.Headless,
		Timeout:      time.Duration(c.Browser.TimeoutSec) * time.Second,
		UserAgent:    c.Browser.UserAgent,
		WindowWidth:  c.Browser.WindowWidth,
		WindowHeight: c.Browser.WindowHeight,
		HostDomains:  c.Host.Domains,
	}
}

// FillerTiming overlays the configured delays on the built-in ones.
func (c *Config) FillerTiming() filler.Timing {
	t := filler.DefaultTiming()
	ms := func(dst *time.Duration, v int) {
		if v > 0 {
			*dst = time.Duration(v) * time.Millisecond
		}
	}
	n := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	ms(&t.EditSettle, c.Timing.EditSettleMs)
	ms(&t.PostEditSettle, c.Timing.PostEditSettleMs)
	ms(&t.CountrySettle, c.Timing.CountrySettleMs)
	ms(&t.DocumentSweepDelay, c.Timing.DocumentSweepDelayMs)
	ms(&t.ModalClose, c.Timing.ModalCloseMs)
	ms(&t.DropzonePoll, c.Timing.DropzonePollMs)
	n(&t.DropzoneAttempts, c.Timing.DropzoneAttempts)
	ms(&t.DropCheck, c.Timing.DropCheckMs)
	ms(&t.WizardPoll, c.Timing.WizardPollMs)
	n(&t.WizardAttempts, c.Timing.WizardAttempts)
	ms(&t.StepDonePause, c.Timing.StepDonePauseMs)
	ms(&t.StepSavePause, c.Timing.StepSavePauseMs)
	ms(&t.StepOKPause, c.Timing.StepOKPauseMs)
	ms(&t.UploadStartDelay, c.Timing.UploadStartDelayMs)
	if c.Upload.TimeoutSec > 0 {
		t.UploadTimeout = time.Duration(c.Upload.TimeoutSec) * time.Second
	}
	return t
}
