package tamer

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"testing/quick"
	"time"
	"unsafe"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSnapshotThreeNumerics(t *testing.T) {
	ch := NewChannel("robot")
	sink := &recordSink{}
	ch.AddSink(sink)

	var a int32
	var b float64
	var c uint16
	_, err := RegisterValue(ch, "a", &a)
	require.NoError(t, err)
	_, err = RegisterValue(ch, "b", &b)
	require.NoError(t, err)
	_, err = RegisterValue(ch, "c", &c)
	require.NoError(t, err)

	a, b, c = 5, 2.5, 7
	ts := time.Unix(1700000000, 42)
	require.NoError(t, ch.TakeSnapshot(ts))

	require.Len(t, sink.schemas, 1)
	schema := sink.schemas[0]
	want := []fieldPair{{"a", "int32"}, {"b", "float64"}, {"c", "uint16"}}
	if diff := cmp.Diff(want, pairs(schema)); diff != "" {
		t.Fatalf("schema fields (-want +got):\n%s", diff)
	}

	f := sink.last()
	require.Equal(t, uint64(1), f.Sequence)
	require.Equal(t, schema.Hash, f.SchemaHash)
	require.True(t, ts.Equal(f.Timestamp))
	require.Equal(t, "robot", f.Channel)
	require.Len(t, f.Payload, 4+8+2)

	values, err := DecodeFrame(schema, f.Payload)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": int32(5), "b": 2.5, "c": uint16(7)}, ValueMap(values))
}

func TestSnapshotSequenceAndAnnounceOnce(t *testing.T) {
	ch := NewChannel("seq")
	sink := &recordSink{}
	ch.AddSink(sink)
	var x int64
	_, err := RegisterValue(ch, "x", &x)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		x = int64(i)
		require.NoError(t, ch.Snapshot())
	}
	require.Equal(t, 1, sink.announceCalls)
	for i, f := range sink.frames {
		require.Equal(t, uint64(i+1), f.Sequence)
	}

	var y int8
	_, err = RegisterValue(ch, "y", &y)
	require.NoError(t, err)
	require.NoError(t, ch.Snapshot())
	require.Equal(t, 2, sink.announceCalls)
	require.Len(t, sink.schemas, 2)
	require.NotEqual(t, sink.schemas[0].Hash, sink.schemas[1].Hash)
	require.Equal(t, uint64(6), sink.last().Sequence)
}

func TestDuplicateNameLeavesBindingsUnchanged(t *testing.T) {
	ch := NewChannel("dup")
	var a, b float32
	_, err := RegisterValue(ch, "a", &a)
	require.NoError(t, err)
	before := ch.Bindings()
	hash := ch.Schema().Hash

	_, err = RegisterValue(ch, "a", &b)
	require.ErrorIs(t, err, ErrDuplicateName)
	var s string
	_, err = RegisterString(ch, "a", &s)
	require.ErrorIs(t, err, ErrDuplicateName)

	require.Equal(t, before, ch.Bindings())
	require.Equal(t, hash, ch.Schema().Hash)
}

func TestRegistrationErrors(t *testing.T) {
	ch := NewChannel("errs")
	_, err := RegisterValue[int32](ch, "nil", nil)
	require.ErrorIs(t, err, ErrNilPointer)
	_, err = RegisterArray[int32](ch, "empty", nil)
	require.ErrorIs(t, err, ErrEmptyArray)
	var v int32
	_, err = RegisterValue(ch, "", &v)
	require.ErrorIs(t, err, ErrInvalidName)
	_, err = RegisterCustom[Loop](ch, "loop", &Loop{})
	require.ErrorIs(t, err, ErrRecursiveType)
	_, err = ch.Register("raw", "Nope", unsafe.Pointer(&v))
	require.ErrorIs(t, err, ErrUnknownType)
	_, err = ch.Register("raw", "int32[x]", unsafe.Pointer(&v))
	require.ErrorIs(t, err, ErrUnknownType)
	_, err = ch.Register("raw", "string[2]", unsafe.Pointer(&v))
	require.ErrorIs(t, err, ErrUnknownType)

	require.ErrorIs(t, ch.Unregister(99), ErrUnknownBinding)
	require.ErrorIs(t, ch.SetEnabled(99, false), ErrUnknownBinding)
	require.Empty(t, ch.Bindings())
}

func TestDisableShrinksFrame(t *testing.T) {
	ch := NewChannel("toggle")
	sink := &recordSink{}
	ch.AddSink(sink)

	var speed float64 = 3
	var tag = "lidar"
	samples := []float32{1, 2, 3}
	_, err := RegisterValue(ch, "speed", &speed)
	require.NoError(t, err)
	tagID, err := RegisterString(ch, "tag", &tag)
	require.NoError(t, err)
	_, err = RegisterSeq(ch, "samples", &samples)
	require.NoError(t, err)

	require.NoError(t, ch.Snapshot())
	full := sink.last()

	require.NoError(t, ch.SetEnabled(tagID, false))
	require.NoError(t, ch.Snapshot())
	partial := sink.last()

	schema := sink.schemaFor(partial.SchemaHash)
	require.NotNil(t, schema)
	_, found := schema.Field("tag")
	require.False(t, found)
	require.Equal(t, lenPrefix+len(tag), len(full.Payload)-len(partial.Payload))

	values, err := DecodeFrame(schema, partial.Payload)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, ValueMap(values)["samples"])

	// Toggling back restores the first version.
	require.NoError(t, ch.SetEnabled(tagID, true))
	require.Equal(t, full.SchemaHash, ch.Schema().Hash)
}

func TestSetEnabledNoChangeKeepsSchema(t *testing.T) {
	ch := NewChannel("stable")
	var v uint32
	id, err := RegisterValue(ch, "v", &v)
	require.NoError(t, err)
	ch.Schema()
	rebuilds := ch.Stats().SchemaRebuilds
	require.NoError(t, ch.SetEnabled(id, true))
	ch.Schema()
	require.Equal(t, rebuilds, ch.Stats().SchemaRebuilds)
}

func TestNoReallocationWithoutSchemaChange(t *testing.T) {
	ch := NewChannel("alloc", WithInitialBuffer(0))
	ch.AddSink(&recordSink{})
	vals := make([]float64, 64)
	for i := range vals {
		_, err := RegisterValue(ch, fmt.Sprintf("v%d", i), &vals[i])
		require.NoError(t, err)
	}
	require.NoError(t, ch.Snapshot())
	grown := ch.Stats().BufferGrowths
	for i := 0; i < 100; i++ {
		vals[i%len(vals)] = float64(i)
		require.NoError(t, ch.Snapshot())
	}
	require.Equal(t, grown, ch.Stats().BufferGrowths)
	require.Equal(t, uint64(101), ch.Stats().Snapshots)
	require.Equal(t, uint64(1), ch.Stats().SchemaRebuilds)
}

func TestSnapshotZeroAllocs(t *testing.T) {
	ch := NewChannel("hot")
	var a int32
	var b [8]float32
	_, err := RegisterValue(ch, "a", &a)
	require.NoError(t, err)
	_, err = RegisterArray(ch, "b", b[:])
	require.NoError(t, err)
	ts := time.Now()
	require.NoError(t, ch.TakeSnapshot(ts))
	allocs := testing.AllocsPerRun(100, func() {
		a++
		_ = ch.TakeSnapshot(ts)
	})
	require.Zero(t, allocs)
}

func TestSchemaTracksBindingsQuick(t *testing.T) {
	kinds := []string{"int32", "float64", "uint8", "bool"}
	condition := func(ops []uint8) bool {
		ch := NewChannel("prop")
		type entry struct {
			id      BindingID
			name    string
			typ     string
			enabled bool
		}
		var model []entry
		store := make([]uint64, len(ops))
		for i, op := range ops {
			switch {
			case op%3 == 0 || len(model) == 0:
				name := fmt.Sprintf("f%d", i)
				typ := kinds[int(op)%len(kinds)]
				id, err := ch.Register(name, typ, unsafe.Pointer(&store[i]))
				require.NoError(t, err)
				model = append(model, entry{id, name, typ, true})
			case op%3 == 1:
				j := int(op) % len(model)
				require.NoError(t, ch.Unregister(model[j].id))
				model = append(model[:j], model[j+1:]...)
			default:
				j := int(op) % len(model)
				model[j].enabled = !model[j].enabled
				require.NoError(t, ch.SetEnabled(model[j].id, model[j].enabled))
			}

			var want []fieldPair
			twin := NewChannel("twin")
			for _, e := range model {
				if e.enabled {
					want = append(want, fieldPair{e.name, e.typ})
					_, err := twin.Register(e.name, e.typ, unsafe.Pointer(&store[0]))
					require.NoError(t, err)
				}
			}
			got := pairs(ch.Schema())
			if len(want) == 0 && len(got) == 0 {
				continue
			}
			if !cmp.Equal(want, got) || twin.Schema().Hash != ch.Schema().Hash {
				return false
			}
		}
		return true
	}
	require.NoError(t, quick.Check(condition, &quick.Config{MaxCount: 50}))
}

func TestSchemaHashOrderSensitive(t *testing.T) {
	base := []SchemaField{{Name: "a", TypeName: "int32"}, {Name: "b", TypeName: "float64"}}
	swapped := []SchemaField{base[1], base[0]}
	retyped := []SchemaField{base[0], {Name: "b", TypeName: "float32"}}
	require.NotEqual(t, SchemaHash(base), SchemaHash(swapped))
	require.NotEqual(t, SchemaHash(base), SchemaHash(base[:1]))
	require.NotEqual(t, SchemaHash(base), SchemaHash(retyped))
	require.Equal(t, SchemaHash(base), SchemaHash(append([]SchemaField(nil), base...)))
}

func TestSinkRejection(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ch := NewChannel("rej", WithLogger(zap.New(core)))
	bad := &recordSink{rejectConsume: true}
	good := &recordSink{}
	ch.AddSink(bad)
	ch.AddSink(good)
	var v int16 = 9
	_, err := RegisterValue(ch, "v", &v)
	require.NoError(t, err)

	err = ch.Snapshot()
	require.ErrorIs(t, err, ErrSinkRejected)
	require.Len(t, good.frames, 1)
	require.Equal(t, 1, logs.FilterMessage("snapshot rejected by sink").Len())

	// The channel keeps working and the sequence keeps counting.
	bad.rejectConsume = false
	require.NoError(t, ch.Snapshot())
	require.Equal(t, uint64(2), good.last().Sequence)
	require.Equal(t, uint64(2), bad.last().Sequence)
	require.Equal(t, uint64(1), ch.Stats().Rejected)
}

func TestAnnounceRejectedIsRetried(t *testing.T) {
	ch := NewChannel("announce")
	sink := &recordSink{rejectAnnounce: true}
	ch.AddSink(sink)
	var v uint64
	_, err := RegisterValue(ch, "v", &v)
	require.NoError(t, err)

	require.ErrorIs(t, ch.Snapshot(), ErrSinkRejected)
	require.Empty(t, sink.frames)

	sink.rejectAnnounce = false
	require.NoError(t, ch.Snapshot())
	require.Equal(t, 2, sink.announceCalls)
	require.Len(t, sink.frames, 1)
	require.Equal(t, uint64(2), sink.frames[0].Sequence)
}

func TestRejectionWarningsThrottled(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ch := NewChannel("flood", WithLogger(zap.New(core)), WithRejectLogRate(0.001, 2))
	ch.AddSink(&recordSink{rejectConsume: true})
	var v int8
	_, err := RegisterValue(ch, "v", &v)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.Error(t, ch.Snapshot())
	}
	require.Equal(t, 2, logs.Len())
	require.Equal(t, uint64(20), ch.Stats().Rejected)
}

func TestMultipleRejectionsJoined(t *testing.T) {
	ch := NewChannel("joined")
	ch.AddSink(&recordSink{rejectConsume: true})
	ch.AddSink(&recordSink{rejectAnnounce: true})
	var v int8
	_, err := RegisterValue(ch, "v", &v)
	require.NoError(t, err)
	err = ch.Snapshot()
	require.ErrorIs(t, err, ErrSinkRejected)
	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	require.Len(t, joined.Unwrap(), 2)
}

func TestSnapshotTooLarge(t *testing.T) {
	ch := NewChannel("cap", WithMaxSnapshotBytes(64))
	sink := &recordSink{}
	ch.AddSink(sink)
	data := make([]byte, 10)
	_, err := RegisterSeq(ch, "data", &data)
	require.NoError(t, err)
	require.NoError(t, ch.Snapshot())

	data = make([]byte, 100)
	require.ErrorIs(t, ch.Snapshot(), ErrSnapshotTooLarge)

	data = data[:20]
	require.NoError(t, ch.Snapshot())
	require.Equal(t, uint64(2), sink.last().Sequence)
}

func TestRegisterCustomSnapshot(t *testing.T) {
	ch := NewChannel("custom")
	sink := &recordSink{}
	ch.AddSink(sink)
	pose := Pose{Pos: Vec3{1, 2, 3}, Label: "odom", Path: []Vec3{{1, 1, 1}}, Valid: true}
	_, err := RegisterCustom(ch, "pose", &pose)
	require.NoError(t, err)
	poses := make([]Vec3, 2)
	_, err = ch.Register("poses", "Vec3[2]", unsafe.Pointer(&poses[0]))
	require.NoError(t, err)
	trail := []Vec3{{9, 9, 9}}
	_, err = ch.Register("trail", "Vec3[]", unsafe.Pointer(&trail))
	require.NoError(t, err)

	require.NoError(t, ch.Snapshot())
	schema := sink.schemas[0]
	want := []fieldPair{{"pose", "Pose"}, {"poses", "Vec3[2]"}, {"trail", "Vec3[]"}}
	require.Equal(t, want, pairs(schema))
	require.Contains(t, schema.Types, "Pose")
	require.Contains(t, schema.Types, "Vec3")

	values, err := DecodeFrame(schema, sink.last().Payload)
	require.NoError(t, err)
	m := ValueMap(values)
	got := m["pose"].(map[string]any)
	require.Equal(t, "odom", got["label"])
	require.Equal(t, map[string]any{"x": 1.0, "y": 2.0, "z": 3.0}, got["pos"])
	require.Equal(t, true, got["valid"])
	require.Len(t, m["poses"], 2)
	require.Equal(t, []any{map[string]any{"x": 9.0, "y": 9.0, "z": 9.0}}, m["trail"])

	var out Pose
	_, err = Decode[Pose](ch.Types(), sink.last().Payload, &out)
	require.NoError(t, err)
	assert.Equal(t, pose.Label, out.Label)
	assert.Equal(t, pose.Path, out.Path)
}

func TestConcurrentRegistrationAndSnapshots(t *testing.T) {
	ch := NewChannel("race")
	sink := &recordSink{}
	ch.AddSink(sink)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = ch.Snapshot()
			}
		}
	}()
	vals := make([]float64, 200)
	for i := range vals {
		id, err := RegisterValue(ch, fmt.Sprintf("v%d", i), &vals[i])
		require.NoError(t, err)
		if i%3 == 0 {
			require.NoError(t, ch.SetEnabled(id, false))
		}
	}
	close(stop)
	wg.Wait()

	// Every frame matches the size its announced schema implies.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, f := range sink.frames {
		var schema *Schema
		for _, s := range sink.schemas {
			if s.Hash == f.SchemaHash {
				schema = s
			}
		}
		require.NotNil(t, schema)
		require.Equal(t, 8*len(schema.Fields), len(f.Payload))
	}
}

// gateSink holds Consume until released.
type gateSink struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateSink) Announce(*Schema) bool { return true }

func (g *gateSink) Consume(Frame) bool {
	g.entered <- struct{}{}
	<-g.release
	return true
}

func TestSetWaitsForSinkDelivery(t *testing.T) {
	ch := NewChannel("gated")
	gate := &gateSink{entered: make(chan struct{}), release: make(chan struct{})}
	ch.AddSink(gate)
	lv, err := NewLoggedValue(ch, "speed", int32(1))
	require.NoError(t, err)

	snapped := make(chan error, 1)
	go func() { snapped <- ch.Snapshot() }()
	<-gate.entered

	set := make(chan struct{})
	go func() {
		lv.Set(2)
		close(set)
	}()
	select {
	case <-set:
		t.Fatal("Set returned while a sink was still consuming")
	case <-time.After(20 * time.Millisecond):
	}
	close(gate.release)
	require.NoError(t, <-snapped)
	<-set
	require.Equal(t, int32(2), lv.Get())
}

func TestUpdateAndLoggedValue(t *testing.T) {
	ch := NewChannel("logged")
	sink := &recordSink{}
	ch.AddSink(sink)
	lv, err := NewLoggedValue(ch, "temp", float32(20.5))
	require.NoError(t, err)
	require.Equal(t, float32(20.5), lv.Get())

	var raw uint16
	_, err = RegisterValue(ch, "raw", &raw)
	require.NoError(t, err)
	ch.Update(func() { raw = 77 })
	lv.Set(21)
	require.NoError(t, ch.Snapshot())
	values, err := DecodeFrame(sink.schemas[0], sink.last().Payload)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"temp": float32(21), "raw": uint16(77)}, ValueMap(values))

	require.NoError(t, lv.Enable(false))
	require.Equal(t, []fieldPair{{"raw", "uint16"}}, pairs(ch.Schema()))
	require.NoError(t, lv.Close())
	require.ErrorIs(t, lv.Close(), ErrUnknownBinding)
	_, err = NewLoggedValue(ch, "raw", int8(0))
	require.ErrorIs(t, err, ErrDuplicateName)
}
