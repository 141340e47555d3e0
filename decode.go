package tamer

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/rawbytedev/tamer/internal/common"
)

// Value is one decoded field of a frame.
//
// Data holds the field's Go value: a numeric of the matching type for
// scalars, a typed slice for arrays and sequences, a string, or a
// map[string]any for composites. Composite types that expose no field list
// but have a fixed size decode to their raw []byte.
type Value struct {
	Name     string
	TypeName string
	Data     any
}

// DecodeFrame decodes a frame payload using the schema it was announced
// with.
func DecodeFrame(schema *Schema, payload []byte) ([]Value, error) {
	d := frameDecoder{types: schema.Types, src: payload}
	out := make([]Value, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		v, err := d.field(f)
		if err != nil {
			return out, fmt.Errorf("%s: %w", f.Name, err)
		}
		out = append(out, Value{Name: f.Name, TypeName: f.TypeName, Data: v})
	}
	if d.off != len(payload) {
		return out, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(payload)-d.off)
	}
	return out, nil
}

// ValueMap indexes decoded values by name.
func ValueMap(values []Value) map[string]any {
	m := make(map[string]any, len(values))
	for _, v := range values {
		m[v.Name] = v.Data
	}
	return m
}

// Decode reads one encoded T from src into out and returns the bytes
// consumed.
func Decode[T any, PT Described[T]](r *TypeRegistry, src []byte, out *T) (int, error) {
	ser, err := GetOrCreate[T, PT](r)
	if err != nil {
		return 0, err
	}
	dec, ok := ser.(ValueDecoder)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrOpaqueType, ser.TypeName())
	}
	return dec.Decode(unsafe.Pointer(out), src)
}

type frameDecoder struct {
	types map[string]TypeInfo
	src   []byte
	off   int
}

func (d *frameDecoder) take(n int) ([]byte, error) {
	if n < 0 || len(d.src)-d.off < n {
		return nil, ErrShortBuffer
	}
	b := d.src[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *frameDecoder) count() (int, error) {
	b, err := d.take(lenPrefix)
	if err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(b)), nil
}

func (d *frameDecoder) field(f SchemaField) (any, error) {
	switch {
	case f.Kind == KindString:
		n, err := d.count()
		if err != nil {
			return nil, err
		}
		b, err := d.take(n)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case f.Kind == KindComposite:
		return d.composites(f)
	case f.Kind.IsNumeric():
		n := f.Count
		if n == seqCount {
			var err error
			if n, err = d.count(); err != nil {
				return nil, err
			}
		}
		scalar := n == 0
		if scalar {
			n = 1
		}
		b, err := d.take(n * f.Kind.Size())
		if err != nil {
			return nil, err
		}
		return numericValue(f.Kind, b, n, scalar), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, f.TypeName)
	}
}

func (d *frameDecoder) composites(f SchemaField) (any, error) {
	info, ok := d.types[f.Elem]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, f.Elem)
	}
	if f.Count == 0 {
		return d.composite(info)
	}
	n := f.Count
	if n == seqCount {
		var err error
		if n, err = d.count(); err != nil {
			return nil, err
		}
	}
	out := make([]any, 0, min(n, len(d.src)-d.off))
	for i := 0; i < n; i++ {
		v, err := d.composite(info)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *frameDecoder) composite(info TypeInfo) (any, error) {
	if len(info.Fields) == 0 {
		if info.FixedSize == 0 {
			return nil, fmt.Errorf("%w: %s", ErrOpaqueType, info.Name)
		}
		b, err := d.take(info.FixedSize)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	}
	m := make(map[string]any, len(info.Fields))
	for _, f := range info.Fields {
		v, err := d.field(f)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", info.Name, f.Name, err)
		}
		m[f.Name] = v
	}
	return m, nil
}

func numericValue(k Kind, b []byte, n int, scalar bool) any {
	switch k {
	case KindBool:
		v := nums[bool](b, n, 1)
		normalizeBools(unsafe.Pointer(unsafe.SliceData(v)), n)
		return pick(v, scalar)
	case KindInt8:
		return pick(nums[int8](b, n, 1), scalar)
	case KindUint8:
		return pick(nums[uint8](b, n, 1), scalar)
	case KindInt16:
		return pick(nums[int16](b, n, 2), scalar)
	case KindUint16:
		return pick(nums[uint16](b, n, 2), scalar)
	case KindInt32:
		return pick(nums[int32](b, n, 4), scalar)
	case KindUint32:
		return pick(nums[uint32](b, n, 4), scalar)
	case KindInt64:
		return pick(nums[int64](b, n, 8), scalar)
	case KindUint64:
		return pick(nums[uint64](b, n, 8), scalar)
	case KindFloat32:
		return pick(nums[float32](b, n, 4), scalar)
	case KindFloat64:
		return pick(nums[float64](b, n, 8), scalar)
	}
	return nil
}

func nums[T Numeric](b []byte, n, width int) []T {
	out := make([]T, n)
	if n > 0 {
		common.GetWords(b, width, unsafe.Pointer(unsafe.SliceData(out)), n)
	}
	return out
}

func pick[T Numeric](v []T, scalar bool) any {
	if scalar {
		return v[0]
	}
	return v
}
