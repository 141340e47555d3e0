package filesink

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/rawbytedev/tamer"
	"github.com/rawbytedev/tamer/internal/common"
)

// Record types.
const (
	TypeSchema byte = 1
	TypeData   byte = 2
)

// MaxRecordSize bounds the body length a reader accepts.
const MaxRecordSize = 1 << 30

var (
	ErrCorrupt     = errors.New("filesink: record checksum mismatch")
	ErrUnknownType = errors.New("filesink: unknown record type")
	ErrTooLarge    = errors.New("filesink: record exceeds size limit")
)

const dataPrefix = 8 + 8 + 8

// appendRecord frames body as one record.
func appendRecord(dst []byte, typ byte, body []byte) []byte {
	dst = append(dst, typ)
	dst = common.WriteVarUintTo(dst, uint64(len(body)))
	dst = append(dst, body...)
	crc := crc32.NewIEEE()
	crc.Write([]byte{typ})
	crc.Write(body)
	return binary.LittleEndian.AppendUint32(dst, crc.Sum32())
}

// readRecord reads one record into buf, reusing its capacity.
func readRecord(r *bufio.Reader, buf []byte) (byte, []byte, error) {
	typ, err := r.ReadByte()
	if err != nil {
		return 0, buf, err
	}
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, buf, unexpected(err)
	}
	if n > MaxRecordSize {
		return 0, buf, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	size := int(n) + 4
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, buf, unexpected(err)
	}
	body := buf[:n]
	crc := crc32.NewIEEE()
	crc.Write([]byte{typ})
	crc.Write(body)
	if crc.Sum32() != binary.LittleEndian.Uint32(buf[n:]) {
		return 0, buf, ErrCorrupt
	}
	return typ, body, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// appendDataBody writes everything of a data record except the payload.
func appendDataBody(dst []byte, f tamer.Frame) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, f.SchemaHash)
	dst = binary.LittleEndian.AppendUint64(dst, f.Sequence)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(f.Timestamp.UnixNano()))
	dst = common.WriteVarUintTo(dst, uint64(len(f.Channel)))
	return append(dst, f.Channel...)
}

// parseDataBody splits a data record body. The returned payload aliases body.
func parseDataBody(body []byte) (tamer.Frame, error) {
	if len(body) < dataPrefix {
		return tamer.Frame{}, io.ErrUnexpectedEOF
	}
	f := tamer.Frame{
		SchemaHash: binary.LittleEndian.Uint64(body[0:]),
		Sequence:   binary.LittleEndian.Uint64(body[8:]),
		Timestamp:  time.Unix(0, int64(binary.LittleEndian.Uint64(body[16:]))),
	}
	rest := body[dataPrefix:]
	n, used := common.ReadVarUint(rest)
	if used == 0 || uint64(len(rest)-used) < n {
		return tamer.Frame{}, io.ErrUnexpectedEOF
	}
	rest = rest[used:]
	f.Channel = string(rest[:n])
	f.Payload = rest[n:]
	return f, nil
}
