package filesink

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rawbytedev/tamer"
)

type Wheel struct {
	RPM    float32
	Torque [2]int16
	Faults []uint8
}

func (w *Wheel) TypeName() string { return "Wheel" }

func (w *Wheel) TypeDef(v tamer.FieldVisitor) {
	v.Visit("rpm", tamer.Num(&w.RPM))
	v.Visit("torque", tamer.Array(w.Torque[:]))
	v.Visit("faults", tamer.Seq(&w.Faults))
}

func record(t *testing.T, path string, opts ...Option) (*Sink, []tamer.Frame) {
	t.Helper()
	sink, err := Create(path, opts...)
	require.NoError(t, err)

	ch := tamer.NewChannel("drive")
	ch.AddSink(sink)
	var speed float64
	var mode = "idle"
	wheel := Wheel{Faults: []uint8{}}
	_, err = tamer.RegisterValue(ch, "speed", &speed)
	require.NoError(t, err)
	_, err = tamer.RegisterString(ch, "mode", &mode)
	require.NoError(t, err)
	_, err = tamer.RegisterCustom(ch, "wheel", &wheel)
	require.NoError(t, err)

	var sent []tamer.Frame
	probe := &probeSink{}
	ch.AddSink(probe)
	base := time.Unix(1700000000, 0)
	for i := 0; i < 20; i++ {
		speed = float64(i) * 0.5
		wheel.RPM = float32(i * 100)
		wheel.Torque = [2]int16{int16(i), int16(-i)}
		if i == 10 {
			mode = "cruise"
			wheel.Faults = append(wheel.Faults, 3, 4)
		}
		require.NoError(t, ch.TakeSnapshot(base.Add(time.Duration(i)*time.Millisecond)))
	}
	sent = probe.frames
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	return sink, sent
}

type probeSink struct{ frames []tamer.Frame }

func (p *probeSink) Announce(*tamer.Schema) bool { return true }
func (p *probeSink) Consume(f tamer.Frame) bool {
	f.Payload = append([]byte(nil), f.Payload...)
	p.frames = append(p.frames, f)
	return true
}

func TestRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "drive.tamr")
		sink, sent := record(t, path, WithCompression(compress))

		rd, err := Open(path)
		require.NoError(t, err)
		defer rd.Close()
		require.Equal(t, sink.Header().Recording, rd.Header().Recording)
		require.Equal(t, compress, rd.Header().Compressed())

		var got []tamer.Frame
		var last map[string]any
		require.NoError(t, rd.Walk(func(f tamer.Frame, values []tamer.Value) error {
			f.Payload = append([]byte(nil), f.Payload...)
			got = append(got, f)
			last = tamer.ValueMap(values)
			return nil
		}))
		require.Len(t, got, len(sent))
		for i := range sent {
			require.Equal(t, sent[i].Sequence, got[i].Sequence)
			require.Equal(t, sent[i].SchemaHash, got[i].SchemaHash)
			require.Equal(t, sent[i].Payload, got[i].Payload)
			require.Equal(t, "drive", got[i].Channel)
			require.True(t, sent[i].Timestamp.Equal(got[i].Timestamp))
		}
		require.Equal(t, 9.5, last["speed"])
		require.Equal(t, "cruise", last["mode"])
		wheel := last["wheel"].(map[string]any)
		require.Equal(t, float32(1900), wheel["rpm"])
		require.Equal(t, []int16{19, -19}, wheel["torque"])
		require.Equal(t, []uint8{3, 4}, wheel["faults"])
	}
}

func TestSchemaRecordCanonical(t *testing.T) {
	ch := tamer.NewChannel("c")
	var v int32
	_, err := tamer.RegisterValue(ch, "v", &v)
	require.NoError(t, err)
	c, err := newCodec()
	require.NoError(t, err)
	defer c.close()
	a, err := c.marshalSchema(ch.Schema())
	require.NoError(t, err)
	b, err := c.marshalSchema(ch.Schema())
	require.NoError(t, err)
	require.Equal(t, a, b)
	back, err := unmarshalSchema(a)
	require.NoError(t, err)
	require.Equal(t, ch.Schema().Hash, back.Hash)
	require.Equal(t, ch.Schema().Fields, back.Fields)
}

func TestCorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tamr")
	record(t, path)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-6] ^= 0xFF

	rd, err := NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	err = rd.Walk(func(tamer.Frame, []tamer.Value) error { return nil })
	require.ErrorIs(t, err, ErrCorrupt)

	rd, err = NewReader(bytes.NewReader(raw[:len(raw)-2]))
	require.NoError(t, err)
	err = rd.Walk(func(tamer.Frame, []tamer.Value) error { return nil })
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestHeader(t *testing.T) {
	h := newHeader(true)
	buf := appendHeader(nil, h)
	require.Len(t, buf, HeaderSize)
	got, err := ParseHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h.Recording, got.Recording)
	require.Equal(t, h.Created.UnixNano(), got.Created.UnixNano())
	require.True(t, got.Compressed())
	require.Equal(t, []byte("TAMR"), buf[:4])

	_, err = ParseHeader(buf[:10])
	require.ErrorIs(t, err, ErrShortHeader)
	buf[0] = 'X'
	_, err = ParseHeader(buf)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestRecordFraming(t *testing.T) {
	var buf []byte
	buf = appendRecord(buf, TypeSchema, []byte("abc"))
	buf = appendRecord(buf, 9, bytes.Repeat([]byte{7}, 300))
	r := bufio.NewReader(bytes.NewReader(buf))
	typ, body, err := readRecord(r, nil)
	require.NoError(t, err)
	require.Equal(t, TypeSchema, typ)
	require.Equal(t, []byte("abc"), body)
	typ, body, err = readRecord(r, body)
	require.NoError(t, err)
	require.Equal(t, byte(9), typ)
	require.Len(t, body, 300)
	_, _, err = readRecord(r, body)
	require.True(t, errors.Is(err, io.EOF))
}

func TestConsumeAfterCloseRejected(t *testing.T) {
	sink, err := Create(filepath.Join(t.TempDir(), "closed.tamr"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.False(t, sink.Consume(tamer.Frame{Channel: "x"}))
	require.Equal(t, uint64(1), sink.Dropped())
}

func TestWriteFailureRejectsSnapshots(t *testing.T) {
	sink, err := Create(filepath.Join(t.TempDir(), "lost.tamr"))
	require.NoError(t, err)
	ch := tamer.NewChannel("odometry")
	ch.AddSink(sink)
	var dist float64
	_, err = tamer.RegisterValue(ch, "dist", &dist)
	require.NoError(t, err)
	require.NoError(t, ch.Snapshot())

	// Pull the file out from under the writer goroutine.
	require.NoError(t, sink.file.Close())
	require.Eventually(t, func() bool {
		dist++
		return errors.Is(ch.Snapshot(), tamer.ErrSinkRejected)
	}, 5*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, ch.Snapshot(), tamer.ErrSinkRejected)
	require.Error(t, sink.Close())
}

func BenchmarkConsume(b *testing.B) {
	sink, err := Create(filepath.Join(b.TempDir(), "bench.tamr"), WithQueueSize(1<<16))
	require.NoError(b, err)
	defer sink.Close()
	f := tamer.Frame{Channel: "bench", Payload: make([]byte, 4096), Timestamp: time.Now()}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		f.Sequence = uint64(i)
		sink.Consume(f)
	}
}
