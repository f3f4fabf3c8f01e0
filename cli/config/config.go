package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/coalesce/storage"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultQuietWindow   = 3 * time.Second
	DefaultPollTimeout   = 30 * time.Second
	DefaultIdleTTL       = 30 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultWorkDir       = "downloads"
)

// Config represents a coalesce.yaml configuration file.
// All values are optional in the file; CLI flags always override them.
type Config struct {
	Telegram    TelegramConfig `yaml:"telegram"`
	WorkDir     string         `yaml:"work_dir"`
	QuietWindow Duration       `yaml:"quiet_window"`
	ChunkLines  int            `yaml:"chunk_lines"`
	Progress    ProgressConfig `yaml:"progress"`
	Session     SessionConfig  `yaml:"session"`
	Storage     StorageConfig  `yaml:"storage"`
	Adapter     AdapterConfig  `yaml:"adapter"`
	MetricsAddr string         `yaml:"metrics_addr"`
	LogLevel    string         `yaml:"log_level"`
}

// TelegramConfig holds bot credentials and polling settings.
type TelegramConfig struct {
	Token       string   `yaml:"token"`
	OwnerID     int64    `yaml:"owner_id"`
	Endpoint    string   `yaml:"endpoint,omitempty"`
	PollTimeout Duration `yaml:"poll_timeout"`
}

// ProgressConfig tunes progress reporting.
type ProgressConfig struct {
	IntervalBytes int64 `yaml:"interval_bytes"`
}

// SessionConfig tunes idle session eviction.
type SessionConfig struct {
	IdleTTL       Duration `yaml:"idle_ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// StorageConfig holds the artifact store settings.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds the completion notification settings.
type AdapterConfig struct {
	Type     string            `yaml:"type"`
	URL      string            `yaml:"url"`
	Channel  string            `yaml:"channel,omitempty"`
	Encoding string            `yaml:"encoding,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Timeout  Duration          `yaml:"timeout,omitempty"`
	Retries  *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// WithDefaults returns a copy with unset values filled in.
func (c Config) WithDefaults() Config {
	if c.WorkDir == "" {
		c.WorkDir = DefaultWorkDir
	}
	if c.QuietWindow.Duration <= 0 {
		c.QuietWindow.Duration = DefaultQuietWindow
	}
	if c.Telegram.PollTimeout.Duration <= 0 {
		c.Telegram.PollTimeout.Duration = DefaultPollTimeout
	}
	if c.Session.IdleTTL.Duration <= 0 {
		c.Session.IdleTTL.Duration = DefaultIdleTTL
	}
	if c.Session.SweepInterval.Duration <= 0 {
		c.Session.SweepInterval.Duration = DefaultSweepInterval
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = storage.BackendFS
	}
	if c.Storage.Backend == storage.BackendFS && c.Storage.Path == "" {
		c.Storage.Path = c.WorkDir
	}
	return c
}

// StorageSettings converts the storage section for storage.Open.
func (c Config) StorageSettings() storage.Config {
	return storage.Config{
		Backend:      c.Storage.Backend,
		Path:         c.Storage.Path,
		Region:       c.Storage.Region,
		Endpoint:     c.Storage.Endpoint,
		UsePathStyle: c.Storage.S3PathStyle,
	}
}

// Validate checks the settings serve needs. Call after WithDefaults.
func (c Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if c.Telegram.OwnerID == 0 {
		errs = append(errs, errors.New("telegram.owner_id is required"))
	}
	if c.ChunkLines < 0 {
		errs = append(errs, fmt.Errorf("chunk_lines must be positive, got %d", c.ChunkLines))
	}
	if c.Progress.IntervalBytes < 0 {
		errs = append(errs, fmt.Errorf("progress.interval_bytes must be positive, got %d", c.Progress.IntervalBytes))
	}
	if err := c.StorageSettings().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown adapter type %q (want webhook or redis)", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, fmt.Errorf("adapter.url is required for %s adapter", c.Adapter.Type))
	}
	return errors.Join(errs...)
}
