package config

import "time"

// Default configuration values.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	DefaultInitialBufferBytes = 1 << 10
	DefaultRejectLogRate      = 1.0
	DefaultRejectLogBurst     = 5

	DefaultMetricsNamespace = "tamer"
	DefaultMetricsAddr      = "127.0.0.1:9464"

	DefaultQueueSize     = 1024
	DefaultBatchSize     = 256
	DefaultFlushInterval = 200 * time.Millisecond
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   DefaultLogLevel,
			Format:  DefaultLogFormat,
			Outputs: []string{"stderr"},
		},
		Recorder: RecorderConfig{
			InitialBufferBytes: DefaultInitialBufferBytes,
			RejectLogRate:      DefaultRejectLogRate,
			RejectLogBurst:     DefaultRejectLogBurst,
		},
		Metrics: MetricsConfig{
			Namespace: DefaultMetricsNamespace,
			Addr:      DefaultMetricsAddr,
		},
		Sinks: SinksConfig{
			File:   FileSinkConfig{Compress: true, QueueSize: DefaultQueueSize},
			Badger: BadgerSinkConfig{QueueSize: DefaultQueueSize},
			Postgres: PostgresSinkConfig{
				QueueSize:     DefaultQueueSize,
				BatchSize:     DefaultBatchSize,
				FlushInterval: DefaultFlushInterval,
			},
		},
	}
}
