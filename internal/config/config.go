// Package config loads and validates the calsnap YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by [Load] and [FileSource.LoadConfig] when no
// configuration file exists at the given path.
var ErrNotFound = errors.New("config file not found")

// allowedCadences is the set of accepted sync cadences, in hours.
var allowedCadences = map[int]bool{1: true, 2: true, 4: true, 8: true, 24: true}

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// Source selects and configures the remote calendar to pull from.
	Source SourceConfig `yaml:"source"`

	// Sync configures the engine: cadence, retry policy, quiet hours.
	Sync SyncConfig `yaml:"sync"`

	// SnapshotPath is where the persisted event snapshot document lives.
	// Defaults to ~/.local/share/calsnap/snapshot.json.
	SnapshotPath string `yaml:"snapshot_path,omitempty"`

	// HistoryDBPath is where the sync attempt history database lives.
	// Defaults to ~/.local/share/calsnap/history.db.
	HistoryDBPath string `yaml:"history_db_path,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// SourceConfig selects the remote calendar provider.
type SourceConfig struct {
	// Provider is "ics" or "google".
	Provider string `yaml:"provider"`

	// ICSURL is the ICS subscription endpoint, required for provider "ics".
	ICSURL string `yaml:"ics_url,omitempty"`

	// CalendarID is the Google calendar to pull, e.g. "primary".
	// Defaults to "primary" for provider "google".
	CalendarID string `yaml:"calendar_id,omitempty"`

	// CredentialsFile is the path to the Google OAuth client credentials JSON.
	// Required for provider "google".
	CredentialsFile string `yaml:"credentials_file,omitempty"`

	// TokenFile is where the Google OAuth token is persisted after login.
	// Defaults to ~/.config/calsnap/token.json.
	TokenFile string `yaml:"token_file,omitempty"`
}

// SyncConfig configures the sync engine. It is reloaded before every sync
// attempt, so edits take effect without a restart.
type SyncConfig struct {
	// Enabled gates automatic scheduled syncs. Manual sync-once runs ignore it.
	Enabled bool `yaml:"enabled"`

	// CadenceHours is the interval between automatic syncs.
	// Allowed values: 1, 2, 4, 8, 24.
	CadenceHours int `yaml:"cadence_hours"`

	// LookaheadWeeks bounds how far into the future events are fetched.
	// Defaults to 4.
	LookaheadWeeks int `yaml:"lookahead_weeks,omitempty"`

	// MaxEvents bounds how many events a single fetch may return.
	// Defaults to 500.
	MaxEvents int `yaml:"max_events,omitempty"`

	// Retry configures the backoff policy for failed attempts.
	Retry RetryConfig `yaml:"retry"`

	// QuietHours, if set, defers scheduled syncs falling inside the window.
	QuietHours *QuietHours `yaml:"quiet_hours,omitempty"`
}

// Cadence returns the configured cadence as a duration.
func (s SyncConfig) Cadence() time.Duration {
	return time.Duration(s.CadenceHours) * time.Hour
}

// RetryConfig configures retry behaviour after a failed sync attempt.
type RetryConfig struct {
	// Enabled turns automatic retries on.
	Enabled bool `yaml:"enabled"`

	// MaxRetries is the attempt budget per sync. Defaults to 3.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// BaseDelay is the first backoff delay; each subsequent retry doubles it.
	// Defaults to 5m.
	BaseDelay time.Duration `yaml:"base_delay,omitempty"`
}

// QuietHours is a daily window during which scheduled syncs are deferred.
// StartHour > EndHour means the window wraps past midnight, e.g. (22, 6)
// covers 22:00–23:59 and 00:00–05:59.
type QuietHours struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// Contains reports whether the given hour of day falls inside the window.
// A window with StartHour == EndHour is empty.
func (q QuietHours) Contains(hour int) bool {
	if q.StartHour == q.EndHour {
		return false
	}
	if q.StartHour < q.EndHour {
		return hour >= q.StartHour && hour < q.EndHour
	}
	// Wraps past midnight.
	return hour >= q.StartHour || hour < q.EndHour
}

// EndAfter returns the instant the quiet window ends, relative to t, which
// must lie inside the window. For a wrapping window the end may fall on the
// following calendar day.
func (q QuietHours) EndAfter(t time.Time) time.Time {
	end := time.Date(t.Year(), t.Month(), t.Day(), q.EndHour, 0, 0, 0, t.Location())
	if !end.After(t) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "calsnap".
	ServiceName string `yaml:"service_name,omitempty"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. {"Authorization": "Bearer <token>"}.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/calsnap/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "calsnap", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
// A missing file is reported as [ErrNotFound].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed,
// filling in defaults along the way.
func (c *Config) validate() error {
	switch c.Source.Provider {
	case "ics":
		if c.Source.ICSURL == "" {
			return fmt.Errorf("source.ics_url is required for the ics provider")
		}
	case "google":
		if c.Source.CalendarID == "" {
			c.Source.CalendarID = "primary"
		}
		if c.Source.CredentialsFile == "" {
			return fmt.Errorf("source.credentials_file is required for the google provider")
		}
	case "":
		return fmt.Errorf("source.provider is required (ics or google)")
	default:
		return fmt.Errorf("source.provider %q is not supported (want ics or google)", c.Source.Provider)
	}

	if c.Sync.CadenceHours == 0 {
		c.Sync.CadenceHours = 4
	}
	if !allowedCadences[c.Sync.CadenceHours] {
		return fmt.Errorf("sync.cadence_hours %d is not allowed (want 1, 2, 4, 8, or 24)", c.Sync.CadenceHours)
	}

	if c.Sync.LookaheadWeeks == 0 {
		c.Sync.LookaheadWeeks = 4
	}
	if c.Sync.LookaheadWeeks < 0 {
		return fmt.Errorf("sync.lookahead_weeks must be positive")
	}

	if c.Sync.MaxEvents == 0 {
		c.Sync.MaxEvents = 500
	}
	if c.Sync.MaxEvents < 0 {
		return fmt.Errorf("sync.max_events must be positive")
	}

	if c.Sync.Retry.MaxRetries == 0 {
		c.Sync.Retry.MaxRetries = 3
	}
	if c.Sync.Retry.MaxRetries < 0 {
		return fmt.Errorf("sync.retry.max_retries must not be negative")
	}
	if c.Sync.Retry.BaseDelay == 0 {
		c.Sync.Retry.BaseDelay = 5 * time.Minute
	}
	if c.Sync.Retry.BaseDelay < 0 {
		return fmt.Errorf("sync.retry.base_delay must be positive")
	}

	if q := c.Sync.QuietHours; q != nil {
		if q.StartHour < 0 || q.StartHour > 23 {
			return fmt.Errorf("sync.quiet_hours.start_hour %d out of range 0-23", q.StartHour)
		}
		if q.EndHour < 0 || q.EndHour > 23 {
			return fmt.Errorf("sync.quiet_hours.end_hour %d out of range 0-23", q.EndHour)
		}
	}

	if c.SnapshotPath == "" {
		c.SnapshotPath = defaultDataPath("snapshot.json")
	}
	if c.HistoryDBPath == "" {
		c.HistoryDBPath = defaultDataPath("history.db")
	}
	if c.Source.TokenFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Source.TokenFile = filepath.Join(home, ".config", "calsnap", "token.json")
		}
	}

	if c.Telemetry != nil && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
	}

	return nil
}

func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".local", "share", "calsnap", name)
}

// FileSource re-reads the config file on every call so edits take effect
// before the next sync attempt. It satisfies the engine's config collaborator
// contract.
type FileSource struct {
	Path string
}

// LoadConfig reads the file at Path and returns its sync section.
func (f FileSource) LoadConfig() (*SyncConfig, error) {
	cfg, err := Load(f.Path)
	if err != nil {
		return nil, err
	}
	return &cfg.Sync, nil
}
