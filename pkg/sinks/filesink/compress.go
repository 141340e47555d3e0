package filesink

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/rawbytedev/tamer"
)

// codec holds the stateful encoders shared by a writer or a reader. zstd
// EncodeAll/DecodeAll are safe for concurrent use.
type codec struct {
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	cbor cbor.EncMode
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		enc.Close()
		dec.Close()
		return nil, err
	}
	return &codec{enc: enc, dec: dec, cbor: em}, nil
}

func (c *codec) compress(dst, src []byte) []byte {
	return c.enc.EncodeAll(src, dst)
}

func (c *codec) decompress(dst, src []byte) ([]byte, error) {
	return c.dec.DecodeAll(src, dst)
}

func (c *codec) marshalSchema(s *tamer.Schema) ([]byte, error) {
	return c.cbor.Marshal(s)
}

func unmarshalSchema(b []byte) (*tamer.Schema, error) {
	s := new(tamer.Schema)
	if err := cbor.Unmarshal(b, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}
