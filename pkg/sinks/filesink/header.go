// Package filesink records frames and schemas into a single append-only
// file that Reader can replay.
//
// Layout: a fixed header followed by records. Each record is
//
//	type(1) | length(uvarint) | body | crc32(4)
//
// with the IEEE checksum taken over type and body. Schema records carry the
// canonical CBOR encoding of a tamer.Schema; data records carry
//
//	schema hash(8) | sequence(8) | unix nanos(8) | channel(uvarint len + bytes) | payload
//
// where payload is zstd-compressed when the header says so.
package filesink

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Magic is "TAMR" read as a little-endian uint32.
const Magic uint32 = 'T' | 'A'<<8 | 'M'<<16 | 'R'<<24

// Version is the container revision this package writes.
const Version uint16 = 1

// HeaderSize is the encoded header length.
const HeaderSize = 4 + 2 + 2 + 16 + 8

// Header flags.
const (
	FlagCompressed uint16 = 1 << 0
)

var (
	ErrBadMagic    = errors.New("filesink: not a recording")
	ErrBadVersion  = errors.New("filesink: unsupported recording version")
	ErrShortHeader = errors.New("filesink: buffer too short for header")
)

// Header opens every recording.
type Header struct {
	Magic     uint32
	Version   uint16
	Flags     uint16
	Recording uuid.UUID
	Created   time.Time
}

// Compressed reports whether data payloads are zstd frames.
func (h Header) Compressed() bool { return h.Flags&FlagCompressed != 0 }

func newHeader(compressed bool) Header {
	h := Header{Magic: Magic, Version: Version, Recording: uuid.New(), Created: time.Now()}
	if compressed {
		h.Flags |= FlagCompressed
	}
	return h
}

func appendHeader(buf []byte, h Header) []byte {
	start := len(buf)
	buf = append(buf, make([]byte, HeaderSize)...)
	b := buf[start:]
	binary.LittleEndian.PutUint32(b[0:], h.Magic)
	binary.LittleEndian.PutUint16(b[4:], h.Version)
	binary.LittleEndian.PutUint16(b[6:], h.Flags)
	copy(b[8:24], h.Recording[:])
	binary.LittleEndian.PutUint64(b[24:], uint64(h.Created.UnixNano()))
	return buf
}

// ParseHeader decodes the header at the start of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Magic:   binary.LittleEndian.Uint32(buf[0:]),
		Version: binary.LittleEndian.Uint16(buf[4:]),
		Flags:   binary.LittleEndian.Uint16(buf[6:]),
	}
	if h.Magic != Magic {
		return Header{}, ErrBadMagic
	}
	if h.Version != Version {
		return Header{}, ErrBadVersion
	}
	copy(h.Recording[:], buf[8:24])
	h.Created = time.Unix(0, int64(binary.LittleEndian.Uint64(buf[24:])))
	return h, nil
}
