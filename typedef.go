package tamer

import (
	"unsafe"
)

// TypeDefinition describes a composite type to the registry.
//
// TypeDef must call v.Visit once per field, always in the same order,
// passing accessors built from the receiver's own fields:
//
//	func (p *Pose) TypeName() string { return "Pose" }
//
//	func (p *Pose) TypeDef(v tamer.FieldVisitor) {
//		v.Visit("pos", tamer.Nested(&p.Pos))
//		v.Visit("rot", tamer.Array(p.Rot[:]))
//		v.Visit("cov", tamer.Seq(&p.Cov))
//	}
//
// TypeDef runs once, at registration, on a zero instance.
type TypeDefinition interface {
	TypeName() string
	TypeDef(v FieldVisitor)
}

// Described is satisfied by *T when T implements TypeDefinition on its
// pointer receiver.
type Described[T any] interface {
	*T
	TypeDefinition
}

// FieldVisitor receives the fields of a TypeDefinition.
type FieldVisitor interface {
	Visit(name string, field Accessor)
}

// Accessor is a typed reference to one field, built with Num, Array, Seq,
// Str, Nested, NestedArray or NestedSeq.
type Accessor interface {
	// describe returns the field layout (offset unset), the field's
	// address and its in-memory size.
	describe(r *resolver) (slot, unsafe.Pointer, uintptr, error)
}

type accessorFunc func(r *resolver) (slot, unsafe.Pointer, uintptr, error)

func (f accessorFunc) describe(r *resolver) (slot, unsafe.Pointer, uintptr, error) {
	return f(r)
}

// Num references a numeric scalar field.
func Num[T Numeric](p *T) Accessor {
	return accessorFunc(func(*resolver) (slot, unsafe.Pointer, uintptr, error) {
		return numericSlot(KindOf[T](), 0), unsafe.Pointer(p), unsafe.Sizeof(*p), nil
	})
}

// Array references a fixed-length numeric array field; pass arr[:].
func Array[T Numeric](s []T) Accessor {
	return accessorFunc(func(*resolver) (slot, unsafe.Pointer, uintptr, error) {
		if len(s) == 0 {
			return slot{}, nil, 0, ErrEmptyArray
		}
		var zero T
		return numericSlot(KindOf[T](), len(s)), unsafe.Pointer(unsafe.SliceData(s)),
			uintptr(len(s)) * unsafe.Sizeof(zero), nil
	})
}

// Seq references a variable-length numeric slice field.
func Seq[T Numeric](p *[]T) Accessor {
	return accessorFunc(func(*resolver) (slot, unsafe.Pointer, uintptr, error) {
		s := numericSlot(KindOf[T](), seqCount)
		s.grow = growFunc[T]()
		return s, unsafe.Pointer(p), unsafe.Sizeof(*p), nil
	})
}

// Str references a string field. Strings make the type variable-size.
func Str(p *string) Accessor {
	return accessorFunc(func(*resolver) (slot, unsafe.Pointer, uintptr, error) {
		return stringSlot(), unsafe.Pointer(p), unsafe.Sizeof(*p), nil
	})
}

// Nested references a composite field.
func Nested[T any, PT Described[T]](p *T) Accessor {
	return accessorFunc(func(r *resolver) (slot, unsafe.Pointer, uintptr, error) {
		ser, err := resolveDescribed[T, PT](r, "")
		if err != nil {
			return slot{}, nil, 0, err
		}
		return compositeSlot(ser, 0, unsafe.Sizeof(*p)), unsafe.Pointer(p), unsafe.Sizeof(*p), nil
	})
}

// NestedArray references a fixed-length array of composites; pass arr[:].
func NestedArray[T any, PT Described[T]](s []T) Accessor {
	return accessorFunc(func(r *resolver) (slot, unsafe.Pointer, uintptr, error) {
		if len(s) == 0 {
			return slot{}, nil, 0, ErrEmptyArray
		}
		ser, err := resolveDescribed[T, PT](r, "")
		if err != nil {
			return slot{}, nil, 0, err
		}
		var zero T
		stride := unsafe.Sizeof(zero)
		return compositeSlot(ser, len(s), stride), unsafe.Pointer(unsafe.SliceData(s)),
			uintptr(len(s)) * stride, nil
	})
}

// NestedSeq references a variable-length slice of composites.
func NestedSeq[T any, PT Described[T]](p *[]T) Accessor {
	return accessorFunc(func(r *resolver) (slot, unsafe.Pointer, uintptr, error) {
		ser, err := resolveDescribed[T, PT](r, "")
		if err != nil {
			return slot{}, nil, 0, err
		}
		var zero T
		s := compositeSlot(ser, seqCount, unsafe.Sizeof(zero))
		s.grow = growFunc[T]()
		return s, unsafe.Pointer(p), unsafe.Sizeof(*p), nil
	})
}

// growFunc replaces the slice at p with a fresh one of length n and returns
// its backing array.
func growFunc[T any]() func(p unsafe.Pointer, n int) unsafe.Pointer {
	return func(p unsafe.Pointer, n int) unsafe.Pointer {
		s := make([]T, n)
		*(*[]T)(p) = s
		return unsafe.Pointer(unsafe.SliceData(s))
	}
}

// layoutCollector turns the accessors of one TypeDef call into slots.
type layoutCollector struct {
	r     *resolver
	owner string
	base  uintptr
	size  uintptr
	slots []slot
	seen  map[string]struct{}
	err   error
}

func (c *layoutCollector) Visit(name string, field Accessor) {
	if c.err != nil {
		return
	}
	if _, dup := c.seen[name]; dup || name == "" {
		c.err = wrapField(c.owner, name, ErrDuplicateField)
		return
	}
	c.seen[name] = struct{}{}
	if field == nil {
		c.err = wrapField(c.owner, name, ErrFieldOutsideInstance)
		return
	}
	s, addr, memSize, err := field.describe(c.r)
	if err != nil {
		c.err = wrapField(c.owner, name, err)
		return
	}
	at := uintptr(addr)
	if addr == nil || at < c.base || at-c.base+memSize > c.size {
		c.err = wrapField(c.owner, name, ErrFieldOutsideInstance)
		return
	}
	s.offset = at - c.base
	s.name = name
	c.slots = append(c.slots, s)
}
