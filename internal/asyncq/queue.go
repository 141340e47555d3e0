// Package asyncq is the bounded hand-off between a snapshot path and a sink
// worker that performs I/O.
package asyncq

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Handler processes one batch. The batch slice is reused after it returns.
type Handler[T any] func(batch []T) error

// Queue buffers items for a single worker goroutine. Push never blocks.
// Once the handler returns an error the queue is broken: Push refuses
// further items and Err reports the first failure.
type Queue[T any] struct {
	ch         chan T
	done       chan struct{}
	handle     Handler[T]
	maxBatch   int
	flushEvery time.Duration
	log        *zap.Logger

	mu     sync.RWMutex
	closed bool

	pushed  atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
	broken  atomic.Pointer[error]
}

// Option configures a Queue.
type Option func(*settings)

type settings struct {
	maxBatch   int
	flushEvery time.Duration
	log        *zap.Logger
}

// WithBatch caps the number of items handed to one Handler call.
func WithBatch(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// WithFlushInterval makes the worker hold partial batches for up to d.
// Without it a batch is handled as soon as the queue runs empty.
func WithFlushInterval(d time.Duration) Option {
	return func(s *settings) {
		s.flushEvery = d
	}
}

// WithLogger sets where handler failures are reported.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// Stats are cumulative queue counters.
type Stats struct {
	Pushed  uint64
	Dropped uint64
	Failed  uint64
}

// New starts a worker draining a queue of the given capacity into handle.
func New[T any](capacity int, handle Handler[T], opts ...Option) *Queue[T] {
	s := settings{maxBatch: 1, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{
		ch:         make(chan T, capacity),
		done:       make(chan struct{}),
		handle:     handle,
		maxBatch:   s.maxBatch,
		flushEvery: s.flushEvery,
		log:        s.log,
	}
	go q.run()
	return q
}

// Push enqueues v. It returns false when the queue is full, closed or
// broken by a handler failure.
func (q *Queue[T]) Push(v T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed || q.broken.Load() != nil {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.ch <- v:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Close stops accepting items and waits until everything queued has been
// handled. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	<-q.done
}

// Stats returns the queue counters.
func (q *Queue[T]) Stats() Stats {
	return Stats{Pushed: q.pushed.Load(), Dropped: q.dropped.Load(), Failed: q.failed.Load()}
}

// Err returns the first handler error, or nil while the queue is healthy.
func (q *Queue[T]) Err() error {
	if p := q.broken.Load(); p != nil {
		return *p
	}
	return nil
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.ch) }

func (q *Queue[T]) run() {
	defer close(q.done)
	var tick <-chan time.Time
	if q.flushEvery > 0 {
		t := time.NewTicker(q.flushEvery)
		defer t.Stop()
		tick = t.C
	}
	batch := make([]T, 0, q.maxBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if q.broken.Load() != nil {
			q.failed.Add(uint64(len(batch)))
		} else if err := q.handle(batch); err != nil {
			q.broken.CompareAndSwap(nil, &err)
			q.failed.Add(uint64(len(batch)))
			q.log.Error("sink batch failed", zap.Int("items", len(batch)), zap.Error(err))
		}
		clear(batch)
		batch = batch[:0]
	}
	for {
		select {
		case v, ok := <-q.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, v)
			if len(batch) >= q.maxBatch || (tick == nil && len(q.ch) == 0) {
				flush()
			}
		case <-tick:
			flush()
		}
	}
}
