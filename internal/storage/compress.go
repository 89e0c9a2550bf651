package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"disot/internal/errors"
)

// zstdMagic opens every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// CompressionOptions configures compression behavior
type CompressionOptions struct {
	// Minimum size in bytes before compressing
	MinSize int
	// Level is a zstd level (1-22) mapped onto the encoder's closest
	// speed preset: 1 is SpeedFastest, 3 SpeedDefault, 7-8 SpeedBetter and
	// 9 or more SpeedBestCompression.
	Level int
}

func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize: 1024, // 1KB
		Level:   3,
	}
}

// Compressed zstd-compresses values of at least MinSize bytes and stores
// smaller ones as they are. Reads tell the two apart by the zstd frame
// magic, so a store written without compression stays readable after
// compression is switched on.
type Compressed struct {
	Provider
	opts CompressionOptions
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

func NewCompressed(inner Provider, opts CompressionOptions) (*Compressed, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}
	return &Compressed{Provider: inner, opts: opts, enc: enc, dec: dec}, nil
}

func (c *Compressed) Write(ctx context.Context, path string, data []byte) error {
	// small values that already look like a zstd frame are compressed anyway,
	// otherwise Read could not tell them from compressed ones
	if len(data) < c.opts.MinSize && !bytes.HasPrefix(data, zstdMagic) {
		return c.Provider.Write(ctx, path, data)
	}
	return c.Provider.Write(ctx, path, c.enc.EncodeAll(data, nil))
}

func (c *Compressed) Read(ctx context.Context, path string) ([]byte, error) {
	stored, err := c.Provider.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(stored, zstdMagic) {
		return stored, nil
	}
	data, err := c.dec.DecodeAll(stored, nil)
	if err != nil {
		return nil, errors.StorageError("decompressing "+path, err)
	}
	return data, nil
}

func (c *Compressed) IsHealthy(ctx context.Context) bool {
	return IsHealthy(ctx, c.Provider)
}

func (c *Compressed) Close() error {
	c.enc.Close()
	c.dec.Close()
	return c.Provider.Close()
}
