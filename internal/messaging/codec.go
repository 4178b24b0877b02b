package messaging

import (
	"bytes"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Codec turns envelopes into message bodies. Bodies larger than the
// threshold are zstd-compressed; Decode recognises either form.
type Codec struct {
	compressAbove int
	encoder       *zstd.Encoder
	decoder       *zstd.Decoder
}

// NewCodec creates a codec. compressAbove <= 0 disables compression.
func NewCodec(compressAbove int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, errors.Wrap(err, "create zstd decoder")
	}
	return &Codec{compressAbove: compressAbove, encoder: enc, decoder: dec}, nil
}

// Encode serialises env.
func (c *Codec) Encode(env *Envelope) ([]byte, error) {
	data, err := sonic.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}
	if c.compressAbove > 0 && len(data) > c.compressAbove {
		return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	}
	return data, nil
}

// Decode parses a body produced by Encode.
func (c *Codec) Decode(body []byte) (*Envelope, error) {
	if bytes.HasPrefix(body, zstdMagic) {
		raw, err := c.decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, errors.Wrap(err, "decompress envelope")
		}
		body = raw
	}
	var env Envelope
	if err := sonic.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}
	if env.MessageID == "" || env.MessageType == "" {
		return nil, errors.New("envelope without message id or type")
	}
	return &env, nil
}

// Close releases the compression state.
func (c *Codec) Close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}
