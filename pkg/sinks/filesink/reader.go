package filesink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rawbytedev/tamer"
)

// Record is one entry of a recording: either a schema or a frame.
type Record struct {
	Type   byte
	Schema *tamer.Schema
	Frame  tamer.Frame
}

// Reader replays a recording.
type Reader struct {
	header  Header
	r       *bufio.Reader
	closer  io.Closer
	codec   *codec
	schemas map[uint64]*tamer.Schema
	buf     []byte
}

// NewReader reads the header from r.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortHeader, err)
	}
	h, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	c, err := newCodec()
	if err != nil {
		return nil, err
	}
	return &Reader{header: h, r: br, codec: c, schemas: make(map[uint64]*tamer.Schema)}, nil
}

// Open opens a recording file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rd, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	rd.closer = f
	return rd, nil
}

// Header returns the recording header.
func (r *Reader) Header() Header { return r.header }

// Next returns the next record, or io.EOF at the end of the recording.
// A frame's payload stays valid only until the next call.
func (r *Reader) Next() (Record, error) {
	typ, body, err := readRecord(r.r, r.buf)
	r.buf = body[:cap(body)]
	if err != nil {
		return Record{}, err
	}
	switch typ {
	case TypeSchema:
		s, err := unmarshalSchema(body)
		if err != nil {
			return Record{}, fmt.Errorf("filesink: schema record: %w", err)
		}
		r.schemas[s.Hash] = s
		return Record{Type: TypeSchema, Schema: s}, nil
	case TypeData:
		f, err := parseDataBody(body)
		if err != nil {
			return Record{}, fmt.Errorf("filesink: data record: %w", err)
		}
		if r.header.Compressed() {
			if f.Payload, err = r.codec.decompress(nil, f.Payload); err != nil {
				return Record{}, fmt.Errorf("filesink: data record: %w", err)
			}
		}
		return Record{Type: TypeData, Frame: f}, nil
	default:
		return Record{}, fmt.Errorf("%w: %d", ErrUnknownType, typ)
	}
}

// Schema returns a schema seen so far.
func (r *Reader) Schema(hash uint64) (*tamer.Schema, bool) {
	s, ok := r.schemas[hash]
	return s, ok
}

// Decode decodes a frame with the schema recorded before it.
func (r *Reader) Decode(f tamer.Frame) ([]tamer.Value, error) {
	s, ok := r.schemas[f.SchemaHash]
	if !ok {
		return nil, fmt.Errorf("filesink: frame %d of %s: no schema %x", f.Sequence, f.Channel, f.SchemaHash)
	}
	return tamer.DecodeFrame(s, f.Payload)
}

// Walk calls fn for every frame with its decoded values.
func (r *Reader) Walk(fn func(f tamer.Frame, values []tamer.Value) error) error {
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Type != TypeData {
			continue
		}
		values, err := r.Decode(rec.Frame)
		if err != nil {
			return err
		}
		if err := fn(rec.Frame, values); err != nil {
			return err
		}
	}
}

// Close releases the file opened by Open.
func (r *Reader) Close() error {
	r.codec.close()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
