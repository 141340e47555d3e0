package tamer

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"unsafe"

	"github.com/rawbytedev/tamer/internal/common"
)

// seqCount marks a variable-length sequence slot.
const seqCount = -1

// lenPrefix is the width of the element count written before sequences and
// strings.
const lenPrefix = 4

// sliceHeader mirrors the runtime layout shared by every slice type.
type sliceHeader struct {
	data unsafe.Pointer
	len  int
	cap  int
}

// slot is one resolved field: where it lives relative to its base address
// and how it is written. Channel bindings are slots with offset 0.
type slot struct {
	name     string
	typeName string
	offset   uintptr
	kind     Kind
	width    int // numeric element width
	count    int // 0 scalar, N fixed array, seqCount
	stride   uintptr
	fixed    int // encoded bytes, -1 when variable
	ser      Serializer
	dec      ValueDecoder
	grow     func(p unsafe.Pointer, n int) unsafe.Pointer
}

func numericSlot(k Kind, count int) slot {
	s := slot{
		kind:   k,
		width:  k.Size(),
		count:  count,
		stride: uintptr(k.Size()),
	}
	s.typeName = typeNameFor(k.String(), count)
	switch {
	case count == seqCount:
		s.fixed = -1
	case count == 0:
		s.fixed = s.width
	default:
		s.fixed = s.width * count
	}
	return s
}

func stringSlot() slot {
	return slot{kind: KindString, typeName: KindString.String(), fixed: -1}
}

func compositeSlot(ser Serializer, count int, stride uintptr) slot {
	s := slot{
		kind:     KindComposite,
		count:    count,
		stride:   stride,
		ser:      ser,
		typeName: typeNameFor(ser.TypeName(), count),
		fixed:    -1,
	}
	s.dec, _ = ser.(ValueDecoder)
	if ser.IsFixedSize() {
		switch {
		case count == 0:
			s.fixed = ser.FixedSize()
		case count > 0:
			s.fixed = ser.FixedSize() * count
		}
	}
	return s
}

func typeNameFor(base string, count int) string {
	switch {
	case count == seqCount:
		return base + "[]"
	case count > 0:
		return base + "[" + strconv.Itoa(count) + "]"
	default:
		return base
	}
}

func (s *slot) field() SchemaField {
	f := SchemaField{Name: s.name, TypeName: s.typeName, Kind: s.kind, Count: s.count}
	if s.ser != nil {
		f.Elem = s.ser.TypeName()
	}
	return f
}

func (s *slot) measure(base unsafe.Pointer) int {
	if s.fixed >= 0 {
		return s.fixed
	}
	p := unsafe.Add(base, s.offset)
	switch s.kind {
	case KindString:
		return lenPrefix + len(*(*string)(p))
	case KindComposite:
		if s.count == 0 {
			return s.ser.Measure(p)
		}
		data, n := p, s.count
		size := 0
		if s.count == seqCount {
			h := (*sliceHeader)(p)
			data, n = h.data, h.len
			size = lenPrefix
			if s.ser.IsFixedSize() {
				return size + n*s.ser.FixedSize()
			}
		}
		for i := 0; i < n; i++ {
			size += s.ser.Measure(unsafe.Add(data, uintptr(i)*s.stride))
		}
		return size
	default:
		return lenPrefix + (*sliceHeader)(p).len*s.width
	}
}

func (s *slot) encode(base unsafe.Pointer, dst []byte) int {
	p := unsafe.Add(base, s.offset)
	switch s.kind {
	case KindString:
		str := *(*string)(p)
		binary.LittleEndian.PutUint32(dst, uint32(len(str)))
		return lenPrefix + copy(dst[lenPrefix:], str)
	case KindComposite:
		if s.count == 0 {
			return s.ser.Encode(p, dst)
		}
		data, n, off := p, s.count, 0
		if s.count == seqCount {
			h := (*sliceHeader)(p)
			data, n = h.data, h.len
			binary.LittleEndian.PutUint32(dst, uint32(n))
			off = lenPrefix
		}
		for i := 0; i < n; i++ {
			off += s.ser.Encode(unsafe.Add(data, uintptr(i)*s.stride), dst[off:])
		}
		return off
	default:
		switch s.count {
		case 0:
			common.PutWord(dst, s.width, p)
			return s.width
		case seqCount:
			h := (*sliceHeader)(p)
			binary.LittleEndian.PutUint32(dst, uint32(h.len))
			return lenPrefix + common.PutWords(dst[lenPrefix:], s.width, h.data, h.len)
		default:
			return common.PutWords(dst, s.width, p, s.count)
		}
	}
}

func (s *slot) decode(base unsafe.Pointer, src []byte) (int, error) {
	p := unsafe.Add(base, s.offset)
	switch s.kind {
	case KindString:
		n, err := s.readLen(src, 1)
		if err != nil {
			return 0, err
		}
		*(*string)(p) = string(src[lenPrefix : lenPrefix+n])
		return lenPrefix + n, nil
	case KindComposite:
		if s.dec == nil {
			return 0, fmt.Errorf("%s: %w", s.name, ErrOpaqueType)
		}
		if s.count == 0 {
			return s.dec.Decode(p, src)
		}
		data, n, off := p, s.count, 0
		if s.count == seqCount {
			cnt, err := s.readLen(src, 1)
			if err != nil {
				return 0, err
			}
			n, off = cnt, lenPrefix
			data = s.grow(p, n)
		}
		for i := 0; i < n; i++ {
			m, err := s.dec.Decode(unsafe.Add(data, uintptr(i)*s.stride), src[off:])
			if err != nil {
				return off, fmt.Errorf("%s[%d]: %w", s.name, i, err)
			}
			off += m
		}
		return off, nil
	default:
		data, n, off := p, s.count, 0
		switch s.count {
		case 0:
			n = 1
		case seqCount:
			cnt, err := s.readLen(src, s.width)
			if err != nil {
				return 0, err
			}
			n, off = cnt, lenPrefix
			data = s.grow(p, n)
		}
		if len(src)-off < n*s.width {
			return 0, fmt.Errorf("%s: %w", s.name, ErrShortBuffer)
		}
		off += common.GetWords(src[off:], s.width, data, n)
		if s.kind == KindBool {
			normalizeBools(data, n)
		}
		return off, nil
	}
}

// readLen reads a sequence length prefix and checks that at least
// n*minElem bytes follow it.
func (s *slot) readLen(src []byte, minElem int) (int, error) {
	if len(src) < lenPrefix {
		return 0, fmt.Errorf("%s: %w", s.name, ErrShortBuffer)
	}
	n := int(binary.LittleEndian.Uint32(src))
	if len(src)-lenPrefix < n*minElem {
		return 0, fmt.Errorf("%s: %w", s.name, ErrShortBuffer)
	}
	return n, nil
}

func normalizeBools(p unsafe.Pointer, n int) {
	for i := 0; i < n; i++ {
		b := (*byte)(unsafe.Add(p, i))
		if *b != 0 {
			*b = 1
		}
	}
}
