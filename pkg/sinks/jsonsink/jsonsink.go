// Package jsonsink writes decoded frames as JSON lines:
//
//	{"channel":"imu","seq":1,"ts":"2024-01-01T00:00:00Z","fields":{"ax":0.5}}
//
// Fields keep schema order. Byte slices are base64 encoded. NaN and
// infinite floats are written as null.
package jsonsink

import (
	"io"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/rawbytedev/tamer"
)

// Sink decodes and writes each frame synchronously on the snapshot path.
type Sink struct {
	mu      sync.Mutex
	out     io.Writer
	closer  io.Closer
	stream  *jsoniter.Stream
	schemas map[uint64]*tamer.Schema
	log     *zap.Logger
	err     error
}

// New writes to w. If w is an io.Closer, Close closes it.
func New(w io.Writer, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Sink{
		out:     w,
		stream:  jsoniter.NewStream(jsoniter.ConfigCompatibleWithStandardLibrary, w, 512),
		schemas: make(map[uint64]*tamer.Schema),
		log:     log.With(zap.String("sink", "json")),
	}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Announce remembers the schema for decoding.
func (s *Sink) Announce(schema *tamer.Schema) bool {
	s.mu.Lock()
	s.schemas[schema.Hash] = schema
	s.mu.Unlock()
	return true
}

// Consume writes one line. A frame with an unknown schema or an undecodable
// payload is rejected on its own; after a failed write every frame is.
func (s *Sink) Consume(f tamer.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false
	}
	schema, ok := s.schemas[f.SchemaHash]
	if !ok {
		return false
	}
	values, err := tamer.DecodeFrame(schema, f.Payload)
	if err != nil {
		s.log.Warn("decode frame", zap.String("channel", f.Channel), zap.Uint64("seq", f.Sequence), zap.Error(err))
		return false
	}
	return s.emit(f, values)
}

// emit writes one line. s.mu must be held.
func (s *Sink) emit(f tamer.Frame, values []tamer.Value) bool {
	writeLine(s.stream, f, values)
	s.stream.WriteRaw("\n")
	if err := s.stream.Error; err != nil {
		// Nothing of this line has reached the writer yet.
		s.stream.Error = nil
		s.stream.Reset(s.out)
		s.log.Warn("encode frame", zap.String("channel", f.Channel), zap.Uint64("seq", f.Sequence), zap.Error(err))
		return false
	}
	if err := s.stream.Flush(); err != nil {
		s.err = err
		s.log.Error("write frame", zap.Error(err))
		return false
	}
	return true
}

func writeLine(st *jsoniter.Stream, f tamer.Frame, values []tamer.Value) {
	st.WriteObjectStart()
	st.WriteObjectField("channel")
	st.WriteString(f.Channel)
	st.WriteMore()
	st.WriteObjectField("seq")
	st.WriteUint64(f.Sequence)
	st.WriteMore()
	st.WriteObjectField("ts")
	st.WriteString(f.Timestamp.UTC().Format(time.RFC3339Nano))
	st.WriteMore()
	st.WriteObjectField("fields")
	st.WriteObjectStart()
	for i, v := range values {
		if i > 0 {
			st.WriteMore()
		}
		st.WriteObjectField(v.Name)
		writeData(st, v.Data)
	}
	st.WriteObjectEnd()
	st.WriteObjectEnd()
}

func writeData(st *jsoniter.Stream, data any) {
	switch x := data.(type) {
	case float32:
		writeFloat(st, float64(x), 32)
	case float64:
		writeFloat(st, x, 64)
	case []float32:
		writeFloats(st, x, 32)
	case []float64:
		writeFloats(st, x, 64)
	case []any:
		st.WriteArrayStart()
		for i, e := range x {
			if i > 0 {
				st.WriteMore()
			}
			writeData(st, e)
		}
		st.WriteArrayEnd()
	case map[string]any:
		st.WriteObjectStart()
		for i, k := range slices.Sorted(maps.Keys(x)) {
			if i > 0 {
				st.WriteMore()
			}
			st.WriteObjectField(k)
			writeData(st, x[k])
		}
		st.WriteObjectEnd()
	default:
		st.WriteVal(x)
	}
}

func writeFloats[F float32 | float64](st *jsoniter.Stream, xs []F, bits int) {
	if xs == nil {
		st.WriteNil()
		return
	}
	st.WriteArrayStart()
	for i, x := range xs {
		if i > 0 {
			st.WriteMore()
		}
		writeFloat(st, float64(x), bits)
	}
	st.WriteArrayEnd()
}

func writeFloat(st *jsoniter.Stream, x float64, bits int) {
	switch {
	case math.IsNaN(x) || math.IsInf(x, 0):
		st.WriteNil()
	case bits == 32:
		st.WriteFloat32(float32(x))
	default:
		st.WriteFloat64(x)
	}
}

// Close closes the underlying writer when it is closable.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.stream.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
