package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v2"

	"github.com/rawbytedev/tamer"
	"github.com/rawbytedev/tamer/pkg/sinks/filesink"
	"github.com/rawbytedev/tamer/pkg/sinks/jsonsink"
)

func dump(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected one recording path, got %d", c.NArg())
	}
	rd, err := filesink.Open(c.Args().First())
	if err != nil {
		return err
	}
	defer rd.Close()
	return write(os.Stdout, rd, dumpOptions{
		channel: c.String("channel"),
		schemas: c.Bool("schemas"),
		header:  c.Bool("header"),
	})
}

type dumpOptions struct {
	channel string
	schemas bool
	header  bool
}

type headerLine struct {
	Recording string    `json:"recording"`
	Version   uint16    `json:"version"`
	Created   time.Time `json:"created"`
	Compress  bool      `json:"compressed"`
}

type schemaLine struct {
	Schema *tamer.Schema `json:"schema"`
}

func write(w io.Writer, rd *filesink.Reader, o dumpOptions) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	if o.header {
		h := rd.Header()
		if err := enc.Encode(headerLine{
			Recording: h.Recording.String(),
			Version:   h.Version,
			Created:   h.Created,
			Compress:  h.Compressed(),
		}); err != nil {
			return err
		}
	}
	frames := jsonsink.New(w, nil)
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch rec.Type {
		case filesink.TypeSchema:
			frames.Announce(rec.Schema)
			if o.schemas && (o.channel == "" || rec.Schema.Channel == o.channel) {
				if err := enc.Encode(schemaLine{Schema: rec.Schema}); err != nil {
					return err
				}
			}
		case filesink.TypeData:
			if o.channel != "" && rec.Frame.Channel != o.channel {
				continue
			}
			if !frames.Consume(rec.Frame) {
				return fmt.Errorf("frame %d of %s: cannot decode", rec.Frame.Sequence, rec.Frame.Channel)
			}
		}
	}
}
