// Package pgsink stores schemas and frames in PostgreSQL.
//
// Schemas are inserted once per hash; frames are buffered on a worker and
// bulk-loaded with COPY.
package pgsink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/fxamacker/cbor/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rawbytedev/tamer"
	"github.com/rawbytedev/tamer/internal/asyncq"
)

const (
	dialectPostgres = "postgres"

	tableSchemas = "tamer_schemas"
	tableFrames  = "tamer_frames"

	colHash       = "hash"
	colChannel    = "channel"
	colText       = "text"
	colDefinition = "definition"
	colCreatedAt  = "created_at"
	colSchemaHash = "schema_hash"
	colSeq        = "seq"
	colTS         = "ts"
	colPayload    = "payload"
)

// Defaults for Options left at zero.
const (
	DefaultQueueSize     = 1024
	DefaultBatchSize     = 256
	DefaultFlushInterval = 200 * time.Millisecond
	DefaultWriteTimeout  = 10 * time.Second
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS ` + tableSchemas + ` (
	hash       BIGINT PRIMARY KEY,
	channel    TEXT NOT NULL,
	text       TEXT NOT NULL,
	definition BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS ` + tableFrames + ` (
	channel     TEXT NOT NULL,
	schema_hash BIGINT NOT NULL,
	seq         BIGINT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	payload     BYTEA NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS ` + tableFrames + `_channel_seq ON ` + tableFrames + ` (channel, seq)`,
}

var frameColumns = []string{colChannel, colSchemaHash, colSeq, colTS, colPayload}

var ErrNotFound = errors.New("pgsink: not found")

// Options configures a Sink.
type Options struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	Logger        *zap.Logger
}

func (o *Options) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type item struct {
	schema *tamer.Schema
	frame  tamer.Frame
}

// Sink writes to a pgx pool. It does not own the pool.
type Sink struct {
	pool    *pgxpool.Pool
	queue   *asyncq.Queue[item]
	cbor    cbor.EncMode
	timeout time.Duration
	log     *zap.Logger

	closeOnce sync.Once
}

// New creates the tables if needed and starts the writer.
func New(ctx context.Context, pool *pgxpool.Pool, o Options) (*Sink, error) {
	o.setDefaults()
	if err := Migrate(ctx, pool); err != nil {
		return nil, err
	}
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	s := &Sink{
		pool:    pool,
		cbor:    em,
		timeout: o.WriteTimeout,
		log:     o.Logger.With(zap.String("sink", "postgres")),
	}
	s.queue = asyncq.New(o.QueueSize, s.write,
		asyncq.WithBatch(o.BatchSize),
		asyncq.WithFlushInterval(o.FlushInterval),
		asyncq.WithLogger(s.log))
	return s, nil
}

// Connect parses dsn, opens a pool and wraps it in a Sink whose Close also
// closes the pool.
func Connect(ctx context.Context, dsn string, o Options) (*Sink, func() error, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pgsink: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("pgsink: connect: %w", err)
	}
	s, err := New(ctx, pool, o)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, func() error {
		err := s.Close()
		pool.Close()
		return err
	}, nil
}

// Migrate creates the tables and index.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgsink: migrate: %w", err)
		}
	}
	return nil
}

// Announce queues the schema.
func (s *Sink) Announce(schema *tamer.Schema) bool {
	return s.queue.Push(item{schema: schema})
}

// Consume queues a copy of f. After a failed insert every frame is refused.
func (s *Sink) Consume(f tamer.Frame) bool {
	f.Payload = append([]byte(nil), f.Payload...)
	return s.queue.Push(item{frame: f})
}

// Dropped returns how many items were refused because the queue was full.
func (s *Sink) Dropped() uint64 { return s.queue.Stats().Dropped }

// Close drains the queue and reports the insert failure that broke it, if
// any. The pool stays open.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.queue.Close()
		st := s.queue.Stats()
		s.log.Info("postgres sink closed", zap.Uint64("dropped", st.Dropped), zap.Uint64("failed", st.Failed))
	})
	return s.queue.Err()
}

func (s *Sink) write(batch []item) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	rows := make([][]any, 0, len(batch))
	for _, it := range batch {
		if it.schema != nil {
			// Frames may reference it in this same batch.
			if err := s.copyFrames(ctx, rows); err != nil {
				return err
			}
			rows = rows[:0]
			if err := s.insertSchema(ctx, it.schema); err != nil {
				return err
			}
			continue
		}
		f := it.frame
		rows = append(rows, []any{f.Channel, int64(f.SchemaHash), int64(f.Sequence), f.Timestamp, f.Payload})
	}
	return s.copyFrames(ctx, rows)
}

func (s *Sink) copyFrames(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{tableFrames}, frameColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("pgsink: copy %d frames: %w", len(rows), err)
	}
	return nil
}

func (s *Sink) insertSchema(ctx context.Context, schema *tamer.Schema) error {
	def, err := s.cbor.Marshal(schema)
	if err != nil {
		return err
	}
	query, args, err := insertSchemaSQL(schema, def, time.Now())
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("pgsink: insert schema %x: %w", schema.Hash, err)
	}
	return nil
}

func insertSchemaSQL(schema *tamer.Schema, def []byte, now time.Time) (string, []any, error) {
	return goqu.Dialect(dialectPostgres).
		Insert(tableSchemas).
		Prepared(true).
		Rows(goqu.Record{
			colHash:       int64(schema.Hash),
			colChannel:    schema.Channel,
			colText:       schema.String(),
			colDefinition: def,
			colCreatedAt:  now,
		}).
		OnConflict(goqu.DoNothing()).
		ToSQL()
}

func selectSchemaSQL(hash uint64) (string, []any, error) {
	return goqu.Dialect(dialectPostgres).
		From(tableSchemas).
		Prepared(true).
		Select(colDefinition).
		Where(goqu.C(colHash).Eq(int64(hash))).
		ToSQL()
}

func selectFramesSQL(channel string, after uint64, limit uint) (string, []any, error) {
	return goqu.Dialect(dialectPostgres).
		From(tableFrames).
		Prepared(true).
		Select(colSchemaHash, colSeq, colTS, colPayload).
		Where(goqu.C(colChannel).Eq(channel), goqu.C(colSeq).Gt(int64(after))).
		Order(goqu.I(colSeq).Asc()).
		Limit(limit).
		ToSQL()
}

// Schema reads a stored schema.
func (s *Sink) Schema(ctx context.Context, hash uint64) (*tamer.Schema, error) {
	query, args, err := selectSchemaSQL(hash)
	if err != nil {
		return nil, err
	}
	var def []byte
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&def); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: schema %x", ErrNotFound, hash)
		}
		return nil, err
	}
	out := new(tamer.Schema)
	if err := cbor.Unmarshal(def, out); err != nil {
		return nil, fmt.Errorf("pgsink: schema %x: %w", hash, err)
	}
	return out, nil
}

// Frames reads up to limit frames of channel with a sequence above after.
func (s *Sink) Frames(ctx context.Context, channel string, after uint64, limit uint) ([]tamer.Frame, error) {
	query, args, err := selectFramesSQL(channel, after, limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tamer.Frame
	for rows.Next() {
		var hash, seq int64
		f := tamer.Frame{Channel: channel}
		if err := rows.Scan(&hash, &seq, &f.Timestamp, &f.Payload); err != nil {
			return nil, err
		}
		f.SchemaHash, f.Sequence = uint64(hash), uint64(seq)
		out = append(out, f)
	}
	return out, rows.Err()
}
