// Package config locates the keystroke directory and loads the optional
// config.yaml inside it.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"github.com/nilszeilon/keystr/internal/storage"
)

const (
	// DirEnv overrides the keystroke directory.
	DirEnv = "KEYSTR_DIR"

	FileName        = "config.yaml"
	LogFileName     = "daemon.log"
	MetricsFileName = "metrics.prom"
)

// Duration is a time.Duration written as "30s" or "2m" in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return xerrors.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return xerrors.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

type Config struct {
	// Dir holds the data file, the marker, logs and this config.
	Dir string `yaml:"-"`

	FlushInterval    Duration `yaml:"flush_interval"`
	MaxFlushFailures int      `yaml:"max_flush_failures"`
	StartTimeout     Duration `yaml:"start_timeout"`
	StopTimeout      Duration `yaml:"stop_timeout"`
	ShutdownTimeout  Duration `yaml:"shutdown_timeout"`

	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Input   InputConfig   `yaml:"input"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // json, sqlite
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

type MetricsConfig struct {
	Textfile bool `yaml:"textfile"`
}

type InputConfig struct {
	// Devices lists evdev paths to read instead of autodetected keyboards.
	// Linux only.
	Devices []string `yaml:"devices"`
}

// Default returns the configuration used when config.yaml is absent.
func Default(dir string) Config {
	return Config{
		Dir:              dir,
		FlushInterval:    Duration(30 * time.Second),
		MaxFlushFailures: 5,
		StartTimeout:     Duration(5 * time.Second),
		StopTimeout:      Duration(10 * time.Second),
		ShutdownTimeout:  Duration(5 * time.Second),
		Store:            StoreConfig{Backend: storage.BackendJSON},
		Log:              LogConfig{Level: "info"},
	}
}

// DefaultDir returns $KEYSTR_DIR, or the "keystroke" directory under the
// user's config home.
func DefaultDir() string {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir
	}
	return filepath.Join(xdg.ConfigHome, "keystroke")
}

// Load reads config.yaml from dir over the defaults. A missing file is not
// an error.
func Load(dir string) (Config, error) {
	cfg := Default(dir)

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, xerrors.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, xerrors.Errorf("parse config: %w", err)
	}
	cfg.Dir = dir

	if err := cfg.Validate(); err != nil {
		return Config{}, xerrors.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	for name, d := range map[string]Duration{
		"flush_interval":   c.FlushInterval,
		"start_timeout":    c.StartTimeout,
		"stop_timeout":     c.StopTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, xerrors.Errorf("%s must be positive, got %s", name, d))
		}
	}
	// stop waits for the daemon's final flush, which may retry for up to
	// shutdown_timeout.
	if c.StopTimeout > 0 && c.ShutdownTimeout > 0 && c.StopTimeout <= c.ShutdownTimeout {
		errs = append(errs, xerrors.Errorf("stop_timeout (%s) must be longer than shutdown_timeout (%s)", c.StopTimeout, c.ShutdownTimeout))
	}
	if c.MaxFlushFailures < 1 {
		errs = append(errs, xerrors.Errorf("max_flush_failures must be at least 1, got %d", c.MaxFlushFailures))
	}
	switch c.Store.Backend {
	case storage.BackendJSON, storage.BackendSQLite:
	default:
		errs = append(errs, xerrors.Errorf("unknown store backend %q", c.Store.Backend))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, xerrors.Errorf("unknown log level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// LogPath is where the daemon writes its log. Relative paths resolve
// against Dir.
func (c Config) LogPath() string {
	if c.Log.File == "" {
		return filepath.Join(c.Dir, LogFileName)
	}
	if filepath.IsAbs(c.Log.File) {
		return c.Log.File
	}
	return filepath.Join(c.Dir, c.Log.File)
}

// MetricsPath is empty when the metrics textfile is disabled.
func (c Config) MetricsPath() string {
	if !c.Metrics.Textfile {
		return ""
	}
	return filepath.Join(c.Dir, MetricsFileName)
}
