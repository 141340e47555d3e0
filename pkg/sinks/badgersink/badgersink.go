// Package badgersink persists schemas and frames in a badger database.
//
// Keys:
//
//	s/<schema hash, 16 hex digits>      -> canonical CBOR schema
//	f/<channel>/<sequence, big endian>  -> schema hash(8) | unix nanos(8) | payload
//
// Big-endian sequences keep a channel's frames in order under prefix scans.
package badgersink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/rawbytedev/tamer"
	"github.com/rawbytedev/tamer/internal/asyncq"
)

// DefaultQueueSize is the number of pending writes a Sink buffers.
const DefaultQueueSize = 1024

var (
	ErrNotFound = errors.New("badgersink: not found")
	ErrCorrupt  = errors.New("badgersink: malformed frame value")
)

// Option configures a Sink.
type Option func(*options)

type options struct {
	queueSize  int
	syncWrites bool
	inMemory   bool
	log        *zap.Logger
}

// WithQueueSize sets how many writes may wait for the worker.
func WithQueueSize(n int) Option { return func(o *options) { o.queueSize = n } }

// WithSyncWrites makes badger fsync every write.
func WithSyncWrites(on bool) Option { return func(o *options) { o.syncWrites = on } }

// WithInMemory keeps the database in memory; dir is ignored.
func WithInMemory() Option { return func(o *options) { o.inMemory = true } }

// WithLogger sets the logger, also used for badger's own messages.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

type entry struct {
	key, value []byte
}

// Sink writes through a badger WriteBatch on a worker goroutine.
type Sink struct {
	db    *badger.DB
	queue *asyncq.Queue[entry]
	cbor  cbor.EncMode
	log   *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the database in dir.
func Open(dir string, opts ...Option) (*Sink, error) {
	o := options{queueSize: DefaultQueueSize, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With(zap.String("sink", "badger"))
	bopts := badger.DefaultOptions(dir).
		WithSyncWrites(o.syncWrites).
		WithLogger(&badgerLogger{log: log.Sugar()})
	if o.inMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badgersink: open db: %w", err)
	}
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		db.Close()
		return nil, err
	}
	s := &Sink{db: db, cbor: em, log: log}
	s.queue = asyncq.New(o.queueSize, s.write, asyncq.WithBatch(256), asyncq.WithLogger(log))
	log.Info("badger sink opened", zap.String("dir", dir), zap.Bool("in_memory", o.inMemory))
	return s, nil
}

// Announce queues the schema under its hash.
func (s *Sink) Announce(schema *tamer.Schema) bool {
	v, err := s.cbor.Marshal(schema)
	if err != nil {
		s.log.Error("encode schema", zap.Error(err))
		return false
	}
	return s.queue.Push(entry{key: SchemaKey(schema.Hash), value: v})
}

// Consume queues the frame. It returns false when the queue is full or an
// earlier batch failed to commit.
func (s *Sink) Consume(f tamer.Frame) bool {
	v := make([]byte, 16+len(f.Payload))
	binary.BigEndian.PutUint64(v, f.SchemaHash)
	binary.BigEndian.PutUint64(v[8:], uint64(f.Timestamp.UnixNano()))
	copy(v[16:], f.Payload)
	return s.queue.Push(entry{key: FrameKey(f.Channel, f.Sequence), value: v})
}

func (s *Sink) write(batch []entry) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range batch {
		if err := wb.Set(e.key, e.value); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// SchemaKey returns the key of a schema.
func SchemaKey(hash uint64) []byte {
	return []byte(fmt.Sprintf("s/%016x", hash))
}

// FramePrefix returns the key prefix shared by a channel's frames.
func FramePrefix(channel string) []byte {
	return []byte("f/" + channel + "/")
}

// FrameKey returns the key of one frame.
func FrameKey(channel string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(FramePrefix(channel), seq)
}

// Schema reads a stored schema.
func (s *Sink) Schema(hash uint64) (*tamer.Schema, error) {
	var out *tamer.Schema
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(SchemaKey(hash))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			out = new(tamer.Schema)
			return cbor.Unmarshal(v, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: schema %s", ErrNotFound, strconv.FormatUint(hash, 16))
	}
	return out, err
}

// Get reads one frame back.
func (s *Sink) Get(channel string, seq uint64) (tamer.Frame, error) {
	var f tamer.Frame
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(FrameKey(channel, seq))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		f, err = parseFrame(channel, seq, v)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return tamer.Frame{}, fmt.Errorf("%w: %s/%d", ErrNotFound, channel, seq)
	}
	return f, err
}

// Scan calls fn for each stored frame of channel in sequence order until fn
// returns false.
func (s *Sink) Scan(channel string, fn func(tamer.Frame) bool) error {
	prefix := FramePrefix(channel)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != len(prefix)+8 {
				continue
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			f, err := parseFrame(channel, binary.BigEndian.Uint64(key[len(prefix):]), v)
			if err != nil {
				return err
			}
			if !fn(f) {
				return nil
			}
		}
		return nil
	})
}

func parseFrame(channel string, seq uint64, v []byte) (tamer.Frame, error) {
	if len(v) < 16 {
		return tamer.Frame{}, ErrCorrupt
	}
	return tamer.Frame{
		Channel:    channel,
		Sequence:   seq,
		SchemaHash: binary.BigEndian.Uint64(v),
		Timestamp:  time.Unix(0, int64(binary.BigEndian.Uint64(v[8:]))),
		Payload:    v[16:],
	}, nil
}

// Close drains pending writes and closes the database.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.queue.Close()
		s.closeErr = errors.Join(s.queue.Err(), s.db.Close())
		s.log.Info("badger sink closed", zap.Uint64("dropped", s.queue.Stats().Dropped))
	})
	return s.closeErr
}

// badgerLogger adapts zap to badger's Logger interface.
type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.log.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }
