// internal/safe/compression.go
package safe

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Blob encodings, stored as the first byte of every value.
const (
	encodingRaw  byte = 0
	encodingZstd byte = 1
)

// CompressionOptions configures compression behavior
type CompressionOptions struct {
	// Minimum size in bytes before compressing
	MinSize int
	// Compression level (1=fastest, 4=best)
	Level int
}

// DefaultCompressionOptions provides sensible defaults
func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize: 1024, // 1KB
		Level:   2,    // Balanced speed/compression
	}
}

// compressionManager pools zstd encoders and decoders
type compressionManager struct {
	opts     CompressionOptions
	encoders sync.Pool
	decoders sync.Pool
}

func newCompressionManager(opts CompressionOptions) (*compressionManager, error) {
	level := zstd.EncoderLevel(opts.Level)
	if level < zstd.SpeedFastest || level > zstd.SpeedBestCompression {
		return nil, fmt.Errorf("invalid compression level %d", opts.Level)
	}

	// Fail early if the codec cannot be built with these options
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating test encoder: %w", err)
	}
	enc.Close()

	return &compressionManager{
		opts: opts,
		encoders: sync.Pool{
			New: func() interface{} {
				enc, _ := zstd.NewWriter(nil,
					zstd.WithEncoderLevel(level),
					zstd.WithEncoderConcurrency(1),
				)
				return enc
			},
		},
		decoders: sync.Pool{
			New: func() interface{} {
				dec, _ := zstd.NewReader(nil,
					zstd.WithDecoderConcurrency(1),
				)
				return dec
			},
		},
	}, nil
}

// encode prefixes content with its encoding byte, compressing it when
// that actually saves space.
func (cm *compressionManager) encode(content []byte) []byte {
	if len(content) >= cm.opts.MinSize {
		enc := cm.encoders.Get().(*zstd.Encoder)
		out := enc.EncodeAll(content, []byte{encodingZstd})
		cm.encoders.Put(enc)
		if len(out) < len(content)+1 {
			return out
		}
	}

	out := make([]byte, 0, len(content)+1)
	out = append(out, encodingRaw)
	return append(out, content...)
}

func (cm *compressionManager) decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("empty blob")
	}

	switch stored[0] {
	case encodingRaw:
		return append([]byte{}, stored[1:]...), nil
	case encodingZstd:
		dec := cm.decoders.Get().(*zstd.Decoder)
		defer cm.decoders.Put(dec)
		out, err := dec.DecodeAll(stored[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown blob encoding %d", stored[0])
	}
}
