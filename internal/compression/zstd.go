// Package compression wraps zstd for on-disk ref snapshots.
package compression

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// MinSize is the smallest payload worth compressing. Smaller payloads are
// stored as-is.
const MinSize = 128

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Compressor compresses snapshots with zstd. Payloads that are not zstd
// frames pass through Decompress untouched, so small or uncompressed files
// written earlier stay readable.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

// Level maps the configured level (1 fastest, 2 default, 3 better) onto a
// zstd encoder level.
func Level(level int) zstd.EncoderLevel {
	switch level {
	case 1:
		return zstd.SpeedFastest
	case 3:
		return zstd.SpeedBetterCompression
	case 4:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func NewCompressor(level int, enabled bool) (*Compressor, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	if !enabled {
		return &Compressor{decoder: decoder}, nil
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(Level(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		decoder.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
		enabled: true,
	}, nil
}

// Enabled reports whether Compress produces zstd frames.
func (c *Compressor) Enabled() bool {
	return c.enabled
}

func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if !c.enabled || len(data) < MinSize {
		return data, nil
	}

	compressed := c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
	if len(compressed) >= len(data) {
		return data, nil
	}
	return compressed, nil
}

// Decompress decodes zstd frames and returns anything else unchanged. It
// works whether or not compression is enabled.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

func (c *Compressor) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}
