package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix.
const DefaultEnvPrefix = "TAMER_"

// Loader loads configuration from multiple sources.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
}

// Option configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the YAML configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns Default() overlaid with the file and then the environment,
// validated.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()
	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load file %s: %w", l.filePath, err)
		}
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	if err := l.k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps TAMER_SINKS__FILE__QUEUE_SIZE to sinks.file.queue_size.
// Sections are separated by a double underscore so keys keep their own.
func (l *Loader) envKey(s string) string {
	s = strings.TrimPrefix(s, l.envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	if c.Recorder.MaxSnapshotBytes < 0 {
		errs = append(errs, errors.New("recorder.max_snapshot_bytes must not be negative"))
	}
	if c.Recorder.InitialBufferBytes < 0 {
		errs = append(errs, errors.New("recorder.initial_buffer_bytes must not be negative"))
	}
	if m := c.Recorder.MaxSnapshotBytes; m > 0 && c.Recorder.InitialBufferBytes > m {
		errs = append(errs, errors.New("recorder.initial_buffer_bytes exceeds max_snapshot_bytes"))
	}
	if c.Recorder.RejectLogRate <= 0 || c.Recorder.RejectLogBurst < 1 {
		errs = append(errs, errors.New("recorder.reject_log_rate and reject_log_burst must be positive"))
	}
	if c.Metrics.Enable && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}
	if c.Sinks.File.Path != "" && c.Sinks.File.QueueSize < 1 {
		errs = append(errs, errors.New("sinks.file.queue_size must be at least 1"))
	}
	if c.Sinks.Badger.Dir != "" && c.Sinks.Badger.QueueSize < 1 {
		errs = append(errs, errors.New("sinks.badger.queue_size must be at least 1"))
	}
	if p := c.Sinks.Postgres; p.DSN != "" && (p.QueueSize < 1 || p.BatchSize < 1 || p.FlushInterval <= 0) {
		errs = append(errs, errors.New("sinks.postgres queue_size, batch_size and flush_interval must be positive"))
	}
	return errors.Join(errs...)
}
