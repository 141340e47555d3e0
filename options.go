package tamer

import (
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Observer receives per-channel counters. Implementations must be cheap:
// SnapshotTaken runs on every snapshot.
type Observer interface {
	SnapshotTaken(bytes int)
	SnapshotRejected()
	SchemaRebuilt(fields int)
	BufferGrown(capacity int)
}

type nopObserver struct{}

func (nopObserver) SnapshotTaken(int) {}
func (nopObserver) SnapshotRejected() {}
func (nopObserver) SchemaRebuilt(int) {}
func (nopObserver) BufferGrown(int) {}

// Default limits.
const (
	DefaultInitialBufferBytes = 1 << 10
	DefaultRejectLogRate      = 1.0 // warnings per second
	DefaultRejectLogBurst     = 5
)

type options struct {
	logger           *zap.Logger
	observer         func(channel string) Observer
	types            *TypeRegistry
	maxSnapshotBytes int
	initialBuffer    int
	rejectLogRate    rate.Limit
	rejectLogBurst   int
}

func defaultOptions() options {
	return options{
		logger:         zap.NewNop(),
		initialBuffer:  DefaultInitialBufferBytes,
		rejectLogRate:  rate.Limit(DefaultRejectLogRate),
		rejectLogBurst: DefaultRejectLogBurst,
	}
}

// Option configures a Channel or a Registry.
type Option func(*options)

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver installs a factory creating one Observer per channel.
func WithObserver(factory func(channel string) Observer) Option {
	return func(o *options) {
		o.observer = factory
	}
}

// WithTypes shares an existing TypeRegistry instead of creating one.
func WithTypes(types *TypeRegistry) Option {
	return func(o *options) {
		o.types = types
	}
}

// WithMaxSnapshotBytes caps the encoded size of one snapshot; 0 disables
// the cap.
func WithMaxSnapshotBytes(n int) Option {
	return func(o *options) {
		o.maxSnapshotBytes = n
	}
}

// WithInitialBuffer sets the capacity reserved before the first snapshot.
func WithInitialBuffer(n int) Option {
	return func(o *options) {
		o.initialBuffer = n
	}
}

// WithRejectLogRate throttles sink rejection warnings.
func WithRejectLogRate(perSecond float64, burst int) Option {
	return func(o *options) {
		o.rejectLogRate = rate.Limit(perSecond)
		o.rejectLogBurst = burst
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
