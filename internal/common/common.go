package common

import (
	"encoding/binary"
	"reflect"
	"unsafe"
)

// LittleEndianHost is true when in-memory numeric layout already matches the
// wire layout, so primitive runs can be copied without per-element swaps.
var LittleEndianHost = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// IsFixedKind reports whether k is a fixed-size primitive kind.
func IsFixedKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// PutWord writes the width-byte word at p into dst, little-endian.
// Floats are written as their IEEE bit pattern.
func PutWord(dst []byte, width int, p unsafe.Pointer) {
	switch width {
	case 1:
		dst[0] = *(*byte)(p)
	case 2:
		binary.LittleEndian.PutUint16(dst, *(*uint16)(p))
	case 4:
		binary.LittleEndian.PutUint32(dst, *(*uint32)(p))
	case 8:
		binary.LittleEndian.PutUint64(dst, *(*uint64)(p))
	default:
		panic("common: unsupported word width")
	}
}

// GetWord reads a width-byte little-endian word from src into p.
func GetWord(src []byte, width int, p unsafe.Pointer) {
	switch width {
	case 1:
		*(*byte)(p) = src[0]
	case 2:
		*(*uint16)(p) = binary.LittleEndian.Uint16(src)
	case 4:
		*(*uint32)(p) = binary.LittleEndian.Uint32(src)
	case 8:
		*(*uint64)(p) = binary.LittleEndian.Uint64(src)
	default:
		panic("common: unsupported word width")
	}
}

// PutWords writes n consecutive words starting at p and returns the number
// of bytes written. On little-endian hosts this is a single copy.
func PutWords(dst []byte, width int, p unsafe.Pointer, n int) int {
	size := width * n
	if n == 0 {
		return 0
	}
	if LittleEndianHost {
		copy(dst[:size], unsafe.Slice((*byte)(p), size))
		return size
	}
	for i := 0; i < n; i++ {
		PutWord(dst[i*width:], width, unsafe.Add(p, i*width))
	}
	return size
}

// GetWords is the inverse of PutWords.
func GetWords(src []byte, width int, p unsafe.Pointer, n int) int {
	size := width * n
	if n == 0 {
		return 0
	}
	if LittleEndianHost {
		copy(unsafe.Slice((*byte)(p), size), src[:size])
		return size
	}
	for i := 0; i < n; i++ {
		GetWord(src[i*width:], width, unsafe.Add(p, i*width))
	}
	return size
}

// WriteVarUintTo appends varint-encoded x to dst using a small stack scratch.
func WriteVarUintTo(dst []byte, x uint64) []byte {
	var scratch [10]byte
	i := 0
	for x >= 0x80 {
		scratch[i] = byte(x) | 0x80
		x >>= 7
		i++
	}
	scratch[i] = byte(x)
	i++
	return append(dst, scratch[:i]...)
}

// ReadVarUint decodes a varint from b returning value and bytes consumed.
// A zero byte count means b held no complete varint.
func ReadVarUint(b []byte) (uint64, int) {
	var x uint64
	var s uint
	for i, c := range b {
		if i == 10 {
			return 0, 0
		}
		x |= uint64(c&0x7F) << s
		if c&0x80 == 0 {
			return x, i + 1
		}
		s += 7
	}
	return 0, 0
}
