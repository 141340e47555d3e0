package tamer

import "unsafe"

// Serializer measures and encodes instances of one type.
//
// instance is an unchecked address of a value of the serializer's type.
// Encode writes exactly Measure(instance) bytes into dst, which the caller
// has already sized, and returns that count.
type Serializer interface {
	TypeName() string
	IsFixedSize() bool
	// FixedSize is the encoded size of every instance, or 0 for
	// variable-size types.
	FixedSize() int
	// Schema returns an optional custom textual layout for sinks.
	Schema() (string, bool)
	Measure(instance unsafe.Pointer) int
	Encode(instance unsafe.Pointer, dst []byte) int
}

// ValueDecoder is implemented by serializers that can read their own
// encoding back into an instance.
type ValueDecoder interface {
	Decode(instance unsafe.Pointer, src []byte) (int, error)
}

// MeasureOf is Serializer.Measure for a typed value.
func MeasureOf[T any](s Serializer, v *T) int {
	return s.Measure(unsafe.Pointer(v))
}

// AppendEncoded appends the encoding of v to dst.
func AppendEncoded[T any](s Serializer, v *T, dst []byte) []byte {
	p := unsafe.Pointer(v)
	n := s.Measure(p)
	start := len(dst)
	if cap(dst)-start < n {
		grown := make([]byte, start, start+n)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:start+n]
	s.Encode(p, dst[start:])
	return dst
}

// structSerializer is synthesized from a TypeDefinition. Its slots hold
// field offsets resolved once at registration, so measuring and encoding
// never call back into the type description.
type structSerializer struct {
	name   string
	size   uintptr
	slots  []slot
	fixed  int
	fields []SchemaField
}

func (s *structSerializer) TypeName() string { return s.name }

func (s *structSerializer) IsFixedSize() bool { return s.fixed >= 0 }

func (s *structSerializer) FixedSize() int {
	if s.fixed < 0 {
		return 0
	}
	return s.fixed
}

func (s *structSerializer) Schema() (string, bool) { return "", false }

func (s *structSerializer) Measure(instance unsafe.Pointer) int {
	if s.fixed >= 0 {
		return s.fixed
	}
	n := 0
	for i := range s.slots {
		n += s.slots[i].measure(instance)
	}
	return n
}

func (s *structSerializer) Encode(instance unsafe.Pointer, dst []byte) int {
	n := 0
	for i := range s.slots {
		n += s.slots[i].encode(instance, dst[n:])
	}
	return n
}

func (s *structSerializer) Decode(instance unsafe.Pointer, src []byte) (int, error) {
	n := 0
	for i := range s.slots {
		m, err := s.slots[i].decode(instance, src[n:])
		if err != nil {
			return n, err
		}
		n += m
	}
	return n, nil
}

// Fields returns the declared field layout.
func (s *structSerializer) Fields() []SchemaField {
	out := make([]SchemaField, len(s.fields))
	copy(out, s.fields)
	return out
}
