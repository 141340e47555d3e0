package tamer

import (
	"reflect"

	"github.com/rawbytedev/tamer/internal/common"
)

// Kind classifies how a field is laid out on the wire.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindComposite
)

var kindNames = [...]string{
	KindInvalid:   "invalid",
	KindBool:      "bool",
	KindInt8:      "int8",
	KindUint8:     "uint8",
	KindInt16:     "int16",
	KindUint16:    "uint16",
	KindInt32:     "int32",
	KindUint32:    "uint32",
	KindInt64:     "int64",
	KindUint64:    "uint64",
	KindFloat32:   "float32",
	KindFloat64:   "float64",
	KindString:    "string",
	KindComposite: "composite",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// IsNumeric reports whether k is one of the built-in fixed-width kinds.
func (k Kind) IsNumeric() bool {
	return k >= KindBool && k <= KindFloat64
}

// Size returns the encoded width of a numeric kind, or -1.
func (k Kind) Size() int {
	switch k {
	case KindBool, KindInt8, KindUint8:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindInt32, KindUint32, KindFloat32:
		return 4
	case KindInt64, KindUint64, KindFloat64:
		return 8
	default:
		return -1
	}
}

// ParseKind maps a schema type name back to its numeric or string Kind.
func ParseKind(name string) (Kind, bool) {
	for k := KindBool; k <= KindString; k++ {
		if kindNames[k] == name {
			return k, true
		}
	}
	return KindInvalid, false
}

// Numeric is the set of types recorded through the built-in fast path.
type Numeric interface {
	~bool |
		~int8 | ~uint8 | ~int16 | ~uint16 |
		~int32 | ~uint32 | ~int64 | ~uint64 |
		~float32 | ~float64
}

// KindOf returns the Kind of a numeric type parameter.
func KindOf[T Numeric]() Kind {
	return kindOfReflect(reflect.TypeFor[T]().Kind())
}

// IsNumeric reports whether T's underlying type takes the built-in path.
func IsNumeric[T any]() bool {
	return common.IsFixedKind(reflect.TypeFor[T]().Kind())
}

func kindOfReflect(k reflect.Kind) Kind {
	switch k {
	case reflect.Bool:
		return KindBool
	case reflect.Int8:
		return KindInt8
	case reflect.Uint8:
		return KindUint8
	case reflect.Int16:
		return KindInt16
	case reflect.Uint16:
		return KindUint16
	case reflect.Int32:
		return KindInt32
	case reflect.Uint32:
		return KindUint32
	case reflect.Int64:
		return KindInt64
	case reflect.Uint64:
		return KindUint64
	case reflect.Float32:
		return KindFloat32
	case reflect.Float64:
		return KindFloat64
	case reflect.String:
		return KindString
	default:
		return KindInvalid
	}
}
