// Package config loads the runtime configuration from YAML with
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/txmod/internal/txdata"
	"github.com/roach88/txmod/internal/value"
)

// Config is the runtime configuration.
type Config struct {
	Database  string          `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Handshake HandshakeConfig `yaml:"handshake"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Modules   []ModuleConfig  `yaml:"modules"`
}

// LogConfig selects the log level (debug, info, warn, error) and format
// (text, json).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HandshakeConfig bounds how long a transaction waits for a starting runtime.
type HandshakeConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	PollAttempts int           `yaml:"poll_attempts"`
}

// SchedulerConfig tunes the timer scheduler. Mode is "adaptive" or "fixed";
// Delay is the fixed delay, or the adaptive default delay.
type SchedulerConfig struct {
	Mode     string        `yaml:"mode"`
	Delay    time.Duration `yaml:"delay"`
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
	Delta    time.Duration `yaml:"delta"`
	Busy     float64       `yaml:"busy_threshold"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// TracingConfig enables OTLP/HTTP span export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ModuleConfig declares one module instance.
type ModuleConfig struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`

	// Include is a CUE constraint over {kind, key, props}. Empty includes
	// every user entity.
	Include string `yaml:"include"`

	// Properties limits the properties the module sees. Empty means all.
	Properties []string `yaml:"properties"`

	InitializeUntil time.Time      `yaml:"initialize_until"`
	Settings        map[string]any `yaml:"settings"`
}

// Scheduler modes.
const (
	SchedulerAdaptive = "adaptive"
	SchedulerFixed    = "fixed"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database: "txmod.db",
		Log:      LogConfig{Level: "info", Format: "text"},
		Handshake: HandshakeConfig{
			PollInterval: 10 * time.Millisecond,
			PollAttempts: 100,
		},
		Scheduler: SchedulerConfig{
			Mode:     SchedulerAdaptive,
			Delay:    2 * time.Second,
			MinDelay: 5 * time.Millisecond,
			MaxDelay: 5 * time.Second,
			Delta:    100 * time.Millisecond,
			Busy:     100,
		},
		Tracing: TracingConfig{ServiceName: "txmod"},
	}
}

// Load reads path over the defaults, then applies TXMOD_* environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown fields are errors.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// envOverrides holds raw environment values. Zero values leave the file
// configuration untouched.
type envOverrides struct {
	Database        string        `env:"TXMOD_DATABASE"`
	LogLevel        string        `env:"TXMOD_LOG_LEVEL"`
	LogFormat       string        `env:"TXMOD_LOG_FORMAT"`
	PollInterval    time.Duration `env:"TXMOD_POLL_INTERVAL"`
	PollAttempts    int           `env:"TXMOD_POLL_ATTEMPTS"`
	SchedulerMode   string        `env:"TXMOD_SCHEDULER_MODE"`
	SchedulerDelay  time.Duration `env:"TXMOD_SCHEDULER_DELAY"`
	MetricsAddress  string        `env:"TXMOD_METRICS_ADDRESS"`
	TracingEndpoint string        `env:"TXMOD_OTEL_ENDPOINT"`
}

func applyEnv(cfg *Config) error {
	var raw envOverrides
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString(&cfg.Database, raw.Database)
	setString(&cfg.Log.Level, raw.LogLevel)
	setString(&cfg.Log.Format, raw.LogFormat)
	setString(&cfg.Scheduler.Mode, raw.SchedulerMode)
	setString(&cfg.Metrics.Address, raw.MetricsAddress)
	setString(&cfg.Tracing.Endpoint, raw.TracingEndpoint)
	if raw.PollInterval != 0 {
		cfg.Handshake.PollInterval = raw.PollInterval
	}
	if raw.PollAttempts != 0 {
		cfg.Handshake.PollAttempts = raw.PollAttempts
	}
	if raw.SchedulerDelay != 0 {
		cfg.Scheduler.Delay = raw.SchedulerDelay
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks the configuration for values the runtime cannot use.
func (c Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database: path is empty"))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}
	if c.Handshake.PollInterval <= 0 {
		errs = append(errs, errors.New("handshake.poll_interval: must be positive"))
	}
	if c.Handshake.PollAttempts <= 0 {
		errs = append(errs, errors.New("handshake.poll_attempts: must be positive"))
	}
	if c.Scheduler.Mode != SchedulerAdaptive && c.Scheduler.Mode != SchedulerFixed {
		errs = append(errs, fmt.Errorf("scheduler.mode: must be adaptive or fixed, got %q", c.Scheduler.Mode))
	}
	if c.Scheduler.Delay <= 0 {
		errs = append(errs, errors.New("scheduler.delay: must be positive"))
	}
	if c.Scheduler.Mode == SchedulerAdaptive && c.Scheduler.MinDelay > c.Scheduler.MaxDelay {
		errs = append(errs, errors.New("scheduler: min_delay exceeds max_delay"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio: must be within [0, 1]"))
	}

	seen := make(map[string]bool, len(c.Modules))
	for i, m := range c.Modules {
		switch {
		case m.ID == "":
			errs = append(errs, fmt.Errorf("modules[%d]: id is empty", i))
		case seen[m.ID]:
			errs = append(errs, fmt.Errorf("modules[%d]: duplicate id %q", i, m.ID))
		}
		seen[m.ID] = true
		if m.Type == "" {
			errs = append(errs, fmt.Errorf("modules[%d]: type is empty", i))
		}
	}
	return errors.Join(errs...)
}

// Policies compiles the module's inclusion policies. User entities are
// always the base set; Include narrows it.
func (m ModuleConfig) Policies() (txdata.Policies, error) {
	p := txdata.DefaultPolicies()
	if m.Include != "" {
		cue, err := txdata.CompileCUE(m.Include)
		if err != nil {
			return txdata.Policies{}, fmt.Errorf("module %q: include: %w", m.ID, err)
		}
		p.Entities = txdata.AllOf(txdata.ExcludeInternal(), cue)
	}
	if len(m.Properties) > 0 {
		p.Properties = txdata.PropertyKeys(m.Properties...)
	}
	return p, nil
}

// SettingsObject converts the free-form settings into a value.Object.
func (m ModuleConfig) SettingsObject() (value.Object, error) {
	obj, err := value.ObjectFromAny(m.Settings)
	if err != nil {
		return nil, fmt.Errorf("module %q: settings: %w", m.ID, err)
	}
	return obj, nil
}
