// Package codec defines the image transform contract used by the pool and
// provides the HEIC-to-JPEG/PNG implementation.
package codec

import (
	"bytes"
	"context"
	"errors"
)

var (
	ErrUnsupportedInput = errors.New("input is not a HEIC/HEIF container")
	ErrDecodeFailed     = errors.New("failed to decode HEIC image")
	ErrEncodeFailed     = errors.New("failed to encode output image")
)

const (
	DefaultQuality = 85

	// Preview bounds match the sample-thumbnail tooling.
	previewMaxWidth  = 400
	previewMaxHeight = 300
)

// Options controls one encode request.
type Options struct {
	Quality  int    // 1–100; values outside the range are clamped
	FastMode bool   // trade resolution for speed on large images
	Format   string // "jpeg" (default) or "png"
}

// Normalized returns a copy with quality clamped and format defaulted.
func (o Options) Normalized() Options {
	if o.Quality < 1 {
		o.Quality = DefaultQuality
	}
	if o.Quality > 100 {
		o.Quality = 100
	}
	switch o.Format {
	case "jpg", "":
		o.Format = "jpeg"
	}
	return o
}

// Result is a fully materialized conversion output.
type Result struct {
	Data    []byte
	Preview []byte // lower-resolution JPEG; may be nil
	Width   int
	Height  int
}

// Codec transforms one compressed image into the requested output encoding.
// Implementations must reject input lacking the HEIC container signature
// before attempting a decode, and must treat a nil progress func as a no-op.
// Progress callbacks are invoked synchronously and must not block.
type Codec interface {
	Encode(ctx context.Context, input []byte, opts Options, progress func(int)) (*Result, error)
}

// ftyp brands that identify a HEIC/HEIF container.
var heifBrands = [][]byte{
	[]byte("heic"),
	[]byte("heix"),
	[]byte("heif"),
	[]byte("hevc"),
	[]byte("mif1"),
	[]byte("msf1"),
}

// IsHEIC reports whether data starts with an ISO-BMFF ftyp box carrying a
// HEIF brand, either as the major brand or among the compatible brands.
func IsHEIC(data []byte) bool {
	if len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		return false
	}

	// A well-formed ftyp box holds at least the header, major brand, and
	// minor version, and is fully contained in the file. Anything else is
	// malformed; scanning past a bogus size would match brand bytes that
	// are not part of the ftyp box at all.
	boxSize := int(uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]))
	if boxSize < 16 || boxSize > len(data) {
		return false
	}

	// Major brand, then minor version (skipped), then compatible brands.
	for off := 8; off+4 <= boxSize; off += 4 {
		if off == 12 {
			continue
		}
		for _, brand := range heifBrands {
			if bytes.Equal(data[off:off+4], brand) {
				return true
			}
		}
	}
	return false
}
