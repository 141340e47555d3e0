// Package sinks opens the sinks enabled in a config.SinksConfig.
package sinks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/rawbytedev/tamer"
	"github.com/rawbytedev/tamer/pkg/config"
	"github.com/rawbytedev/tamer/pkg/observability"
	"github.com/rawbytedev/tamer/pkg/sinks/badgersink"
	"github.com/rawbytedev/tamer/pkg/sinks/filesink"
	"github.com/rawbytedev/tamer/pkg/sinks/jsonsink"
	"github.com/rawbytedev/tamer/pkg/sinks/pgsink"
)

// Set is a group of opened sinks closed together.
type Set struct {
	Sinks   []tamer.Sink
	Names   []string
	closers []func() error
}

func (s *Set) add(name string, sink tamer.Sink, closer func() error) {
	s.Sinks = append(s.Sinks, sink)
	s.Names = append(s.Names, name)
	s.closers = append(s.closers, closer)
}

// Close closes every sink in reverse opening order.
func (s *Set) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Names[i], err))
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Open opens every configured sink. On error the ones already opened are
// closed.
func Open(ctx context.Context, c config.SinksConfig, rotation config.RotationConfig, log *zap.Logger) (*Set, error) {
	if log == nil {
		log = zap.NewNop()
	}
	set := &Set{}
	fail := func(err error) (*Set, error) {
		return nil, errors.Join(err, set.Close())
	}

	if c.File.Path != "" {
		s, err := filesink.Create(c.File.Path,
			filesink.WithCompression(c.File.Compress),
			filesink.WithQueueSize(c.File.QueueSize),
			filesink.WithLogger(log))
		if err != nil {
			return fail(err)
		}
		set.add("file", s, s.Close)
	}
	if c.Badger.Dir != "" {
		s, err := badgersink.Open(c.Badger.Dir,
			badgersink.WithQueueSize(c.Badger.QueueSize),
			badgersink.WithSyncWrites(c.Badger.SyncWrites),
			badgersink.WithLogger(log))
		if err != nil {
			return fail(err)
		}
		set.add("badger", s, s.Close)
	}
	if c.Postgres.DSN != "" {
		s, closer, err := pgsink.Connect(ctx, c.Postgres.DSN, pgsink.Options{
			QueueSize:     c.Postgres.QueueSize,
			BatchSize:     c.Postgres.BatchSize,
			FlushInterval: c.Postgres.FlushInterval,
			Logger:        log,
		})
		if err != nil {
			return fail(err)
		}
		set.add("postgres", s, closer)
	}
	if c.JSON.Path != "" {
		var w io.Writer
		if c.JSON.Path == "-" || c.JSON.Path == "stdout" {
			w = nopCloser{os.Stdout}
		} else if c.JSON.Rotate {
			w = observability.RotatingWriter(c.JSON.Path, rotation)
		} else {
			f, err := os.OpenFile(c.JSON.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fail(fmt.Errorf("json sink: %w", err))
			}
			w = f
		}
		s := jsonsink.New(w, log)
		set.add("json", s, s.Close)
	}
	log.Info("sinks opened", zap.Strings("sinks", set.Names))
	return set, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
