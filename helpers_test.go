package tamer

import (
	"sync"
)

type Vec3 struct {
	X, Y, Z float64
}

func (v *Vec3) TypeName() string { return "Vec3" }

func (v *Vec3) TypeDef(f FieldVisitor) {
	f.Visit("x", Num(&v.X))
	f.Visit("y", Num(&v.Y))
	f.Visit("z", Num(&v.Z))
}

type Pose struct {
	Pos     Vec3
	Rot     [4]float32
	Cov     []float64
	Label   string
	Path    []Vec3
	Corners [2]Vec3
	Valid   bool
}

func (p *Pose) TypeName() string { return "Pose" }

func (p *Pose) TypeDef(f FieldVisitor) {
	f.Visit("pos", Nested(&p.Pos))
	f.Visit("rot", Array(p.Rot[:]))
	f.Visit("cov", Seq(&p.Cov))
	f.Visit("label", Str(&p.Label))
	f.Visit("path", NestedSeq(&p.Path))
	f.Visit("corners", NestedArray(p.Corners[:]))
	f.Visit("valid", Num(&p.Valid))
}

// Sample has one fixed array and one sequence.
type Sample struct {
	Arr [4]int16
	Seq []int32
}

func (s *Sample) TypeName() string { return "Sample" }

func (s *Sample) TypeDef(f FieldVisitor) {
	f.Visit("arr", Array(s.Arr[:]))
	f.Visit("seq", Seq(&s.Seq))
}

type Loop struct {
	ID   uint8
	Next []Loop
}

func (l *Loop) TypeName() string { return "Loop" }

func (l *Loop) TypeDef(f FieldVisitor) {
	f.Visit("id", Num(&l.ID))
	f.Visit("next", NestedSeq(&l.Next))
}

var stray int32

type Stray struct {
	A int32
}

func (s *Stray) TypeName() string { return "Stray" }

func (s *Stray) TypeDef(f FieldVisitor) {
	f.Visit("a", Num(&s.A))
	f.Visit("b", Num(&stray))
}

type Twice struct {
	A, B int8
}

func (t *Twice) TypeName() string { return "Twice" }

func (t *Twice) TypeDef(f FieldVisitor) {
	f.Visit("a", Num(&t.A))
	f.Visit("a", Num(&t.B))
}

type Hollow struct {
	A int8
}

func (h *Hollow) TypeName() string { return "Hollow" }

func (h *Hollow) TypeDef(FieldVisitor) {}

type Meters float64

func (m *Meters) TypeName() string { return "Meters" }

func (m *Meters) TypeDef(f FieldVisitor) {}

// Impostor claims Vec3's name.
type Impostor struct {
	A float64
}

func (i *Impostor) TypeName() string { return "Vec3" }

func (i *Impostor) TypeDef(f FieldVisitor) {
	f.Visit("a", Num(&i.A))
}

// Masked takes a built-in kind's name.
type Masked struct {
	A int32
}

func (m *Masked) TypeName() string { return "string" }

func (m *Masked) TypeDef(f FieldVisitor) {
	f.Visit("a", Num(&m.A))
}

// Lopsided nests a valid Vec3 before a duplicate field.
type Lopsided struct {
	Pos  Vec3
	A, B uint16
}

func (l *Lopsided) TypeName() string { return "Lopsided" }

func (l *Lopsided) TypeDef(f FieldVisitor) {
	f.Visit("pos", Nested(&l.Pos))
	f.Visit("a", Num(&l.A))
	f.Visit("a", Num(&l.B))
}

// recordSink keeps copies of everything it accepts.
type recordSink struct {
	mu             sync.Mutex
	schemas        []*Schema
	frames         []Frame
	rejectAnnounce bool
	rejectConsume  bool
	announceCalls  int
}

func (s *recordSink) Announce(schema *Schema) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announceCalls++
	if s.rejectAnnounce {
		return false
	}
	s.schemas = append(s.schemas, schema)
	return true
}

func (s *recordSink) Consume(f Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectConsume {
		return false
	}
	f.Payload = append([]byte(nil), f.Payload...)
	s.frames = append(s.frames, f)
	return true
}

func (s *recordSink) last() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1]
}

func (s *recordSink) schemaFor(hash uint64) *Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.schemas {
		if sc.Hash == hash {
			return sc
		}
	}
	return nil
}

type fieldPair struct {
	Name, Type string
}

func pairs(s *Schema) []fieldPair {
	out := make([]fieldPair, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = fieldPair{f.Name, f.TypeName}
	}
	return out
}
