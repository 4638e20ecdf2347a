// pkg/chunk/codec.go

package chunk

import (
	"ChunkFS/pkg/compress"
	"github.com/pkg/errors"
)

// Codec turns chunk payloads into record bytes and back.
type Codec struct {
	compressor compress.Compressor
	maxSize    int
}

// NewCodec returns a codec for payloads of at most maxSize bytes.
func NewCodec(algr string, maxSize int) (*Codec, error) {
	c := compress.NewCompressor(algr)
	if c == nil {
		return nil, errors.Errorf("unsupported compress algorithm: %s", algr)
	}
	return &Codec{compressor: c, maxSize: maxSize}, nil
}

func (c *Codec) Name() string {
	return c.compressor.Name()
}

func (c *Codec) Encode(payload []byte) ([]byte, error) {
	buf := make([]byte, c.compressor.CompressBound(len(payload)))
	n, err := c.compressor.Compress(buf, payload)
	if err != nil {
		return nil, errors.Wrapf(err, "%s compress %d bytes", c.Name(), len(payload))
	}
	return buf[:n], nil
}

// Decode fails with ErrCorruptChunk for anything Encode could not have produced.
func (c *Codec) Decode(record []byte) ([]byte, error) {
	if len(record) == 0 {
		return nil, errors.Wrap(ErrCorruptChunk, "empty record")
	}
	buf := make([]byte, c.maxSize)
	n, err := c.compressor.Decompress(buf, record)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptChunk, "%s: %s", c.Name(), err)
	}
	return buf[:n], nil
}
