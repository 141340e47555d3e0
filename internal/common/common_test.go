package common

import (
	"encoding/binary"
	"math"
	"reflect"
	"testing"
	"testing/quick"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedKinds(t *testing.T) {
	assert.True(t, IsFixedKind(reflect.Float32))
	assert.True(t, IsFixedKind(reflect.Bool))
	assert.False(t, IsFixedKind(reflect.String))
	assert.False(t, IsFixedKind(reflect.Int))
}

func TestPutWordLittleEndian(t *testing.T) {
	x := math.Pi
	dst := make([]byte, 8)
	PutWord(dst, 8, unsafe.Pointer(&x))
	require.Equal(t, math.Float64bits(math.Pi), binary.LittleEndian.Uint64(dst))

	var y float64
	GetWord(dst, 8, unsafe.Pointer(&y))
	require.Equal(t, x, y)

	h := int16(-2)
	PutWord(dst, 2, unsafe.Pointer(&h))
	require.Equal(t, []byte{0xFE, 0xFF}, dst[:2])
}

func TestWordsRoundTrip(t *testing.T) {
	condition := func(in []uint32) bool {
		dst := make([]byte, 4*len(in))
		n := PutWords(dst, 4, unsafe.Pointer(unsafe.SliceData(in)), len(in))
		for i, v := range in {
			if binary.LittleEndian.Uint32(dst[4*i:]) != v {
				return false
			}
		}
		out := make([]uint32, len(in))
		m := GetWords(dst, 4, unsafe.Pointer(unsafe.SliceData(out)), len(out))
		return n == m && assert.ObjectsAreEqual(in, out)
	}
	require.NoError(t, quick.Check(condition, &quick.Config{}))
}

func TestVarUint(t *testing.T) {
	condition := func(x uint64) bool {
		b := WriteVarUintTo(nil, x)
		y, n := ReadVarUint(b)
		return x == y && n == len(b)
	}
	require.NoError(t, quick.Check(condition, &quick.Config{}))

	_, n := ReadVarUint([]byte{0x80, 0x80})
	require.Zero(t, n)
	_, n = ReadVarUint(nil)
	require.Zero(t, n)
	require.Equal(t, []byte{0xAC, 0x02}, WriteVarUintTo(nil, 300))
}
