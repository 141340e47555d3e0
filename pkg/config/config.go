// Package config defines the recorder configuration and loads it with koanf
// from defaults, an optional YAML file and TAMER_ environment variables.
package config

import (
	"time"
)

// Config is the root configuration for tamer binaries.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Recorder RecorderConfig `koanf:"recorder"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Sinks    SinksConfig    `koanf:"sinks"`
}

// LogConfig configures zap and optional lumberjack rotation.
type LogConfig struct {
	Level       string         `koanf:"level"`
	Format      string         `koanf:"format"`
	Outputs     []string       `koanf:"outputs"`
	Development bool           `koanf:"development"`
	Rotation    RotationConfig `koanf:"rotation"`
}

// RotationConfig configures lumberjack.
type RotationConfig struct {
	Enable     bool   `koanf:"enable"`
	Filename   string `koanf:"filename"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// RecorderConfig holds channel limits.
type RecorderConfig struct {
	MaxSnapshotBytes   int     `koanf:"max_snapshot_bytes"`
	InitialBufferBytes int     `koanf:"initial_buffer_bytes"`
	RejectLogRate      float64 `koanf:"reject_log_rate"`
	RejectLogBurst     int     `koanf:"reject_log_burst"`
}

// MetricsConfig configures the prometheus exporter.
type MetricsConfig struct {
	Enable    bool   `koanf:"enable"`
	Namespace string `koanf:"namespace"`
	Addr      string `koanf:"addr"`
}

// SinksConfig selects and configures sinks. A sink with an empty path or
// DSN is disabled.
type SinksConfig struct {
	File     FileSinkConfig     `koanf:"file"`
	Badger   BadgerSinkConfig   `koanf:"badger"`
	Postgres PostgresSinkConfig `koanf:"postgres"`
	JSON     JSONSinkConfig     `koanf:"json"`
}

// FileSinkConfig configures the recording file sink.
type FileSinkConfig struct {
	Path      string `koanf:"path"`
	Compress  bool   `koanf:"compress"`
	QueueSize int    `koanf:"queue_size"`
}

// BadgerSinkConfig configures the badger sink.
type BadgerSinkConfig struct {
	Dir        string `koanf:"dir"`
	QueueSize  int    `koanf:"queue_size"`
	SyncWrites bool   `koanf:"sync_writes"`
}

// PostgresSinkConfig configures the postgres sink.
type PostgresSinkConfig struct {
	DSN           string        `koanf:"dsn"`
	QueueSize     int           `koanf:"queue_size"`
	BatchSize     int           `koanf:"batch_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// JSONSinkConfig configures the JSON lines sink.
type JSONSinkConfig struct {
	Path   string `koanf:"path"`
	Rotate bool   `koanf:"rotate"`
}
