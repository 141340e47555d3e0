package filesink

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/rawbytedev/tamer"
	"github.com/rawbytedev/tamer/internal/asyncq"
)

// DefaultQueueSize is the number of pending records a Sink buffers.
const DefaultQueueSize = 1024

// Option configures a Sink.
type Option func(*options)

type options struct {
	compress  bool
	queueSize int
	log       *zap.Logger
}

// WithCompression zstd-compresses data payloads.
func WithCompression(on bool) Option {
	return func(o *options) { o.compress = on }
}

// WithQueueSize sets how many records may wait for the writer goroutine.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

type item struct {
	typ    byte
	schema *tamer.Schema
	frame  tamer.Frame
}

// Sink writes a recording file. Announce and Consume only copy and enqueue;
// a single goroutine does the encoding and the I/O.
type Sink struct {
	header Header
	file   *os.File
	w      *bufio.Writer
	codec  *codec
	queue  *asyncq.Queue[item]
	log    *zap.Logger

	// worker-owned scratch
	rec  []byte
	body []byte
	zbuf []byte

	closeOnce sync.Once
	closeErr  error
}

// Create truncates path and starts a recording there.
func Create(path string, opts ...Option) (*Sink, error) {
	o := options{queueSize: DefaultQueueSize, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	c, err := newCodec()
	if err != nil {
		return nil, fmt.Errorf("filesink: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("filesink: %w", err)
	}
	s := &Sink{
		header: newHeader(o.compress),
		file:   f,
		w:      bufio.NewWriterSize(f, 64<<10),
		codec:  c,
		log:    o.log.With(zap.String("sink", "file"), zap.String("path", path)),
	}
	if _, err := s.w.Write(appendHeader(nil, s.header)); err != nil {
		f.Close()
		c.close()
		return nil, fmt.Errorf("filesink: write header: %w", err)
	}
	s.queue = asyncq.New(o.queueSize, s.write, asyncq.WithBatch(64), asyncq.WithLogger(s.log))
	s.log.Info("recording started", zap.String("recording", s.header.Recording.String()))
	return s, nil
}

// Header returns the recording header.
func (s *Sink) Header() Header { return s.header }

// Announce queues a schema record. After a failed write every record is
// refused.
func (s *Sink) Announce(schema *tamer.Schema) bool {
	return s.queue.Push(item{typ: TypeSchema, schema: schema})
}

// Consume queues a copy of f. It returns false when the queue is full or an
// earlier write failed.
func (s *Sink) Consume(f tamer.Frame) bool {
	f.Payload = append([]byte(nil), f.Payload...)
	return s.queue.Push(item{typ: TypeData, frame: f})
}

// Dropped returns the number of records refused because the queue was full.
func (s *Sink) Dropped() uint64 { return s.queue.Stats().Dropped }

// Close drains the queue, flushes and closes the file.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.queue.Close()
		errs := []error{s.queue.Err(), s.w.Flush(), s.file.Sync(), s.file.Close()}
		s.codec.close()
		s.closeErr = errors.Join(errs...)
		s.log.Info("recording closed", zap.Uint64("dropped", s.Dropped()))
	})
	return s.closeErr
}

func (s *Sink) write(batch []item) error {
	for _, it := range batch {
		var err error
		switch it.typ {
		case TypeSchema:
			var body []byte
			if body, err = s.codec.marshalSchema(it.schema); err == nil {
				s.rec = appendRecord(s.rec[:0], TypeSchema, body)
			}
		case TypeData:
			s.body = appendDataBody(s.body[:0], it.frame)
			if s.header.Compressed() {
				s.zbuf = s.codec.compress(s.zbuf[:0], it.frame.Payload)
				s.body = append(s.body, s.zbuf...)
			} else {
				s.body = append(s.body, it.frame.Payload...)
			}
			s.rec = appendRecord(s.rec[:0], TypeData, s.body)
		}
		if err == nil {
			_, err = s.w.Write(s.rec)
		}
		if err != nil {
			return err
		}
	}
	return s.w.Flush()
}
