package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
	"go.uber.org/zap"
)

// fastModeMaxDim caps the longest output edge when FastMode is set.
const fastModeMaxDim = 2048

// HEIF decodes HEIC containers and re-encodes them as JPEG or PNG.
type HEIF struct {
	logger *zap.Logger
}

func NewHEIF(logger *zap.Logger) *HEIF {
	return &HEIF{logger: logger}
}

func (c *HEIF) Encode(ctx context.Context, input []byte, opts Options, progress func(int)) (*Result, error) {
	if progress == nil {
		progress = func(int) {}
	}
	opts = opts.Normalized()

	if !IsHEIC(input) {
		return nil, ErrUnsupportedInput
	}
	progress(5)

	src, err := goheif.Decode(bytes.NewReader(input))
	if err != nil {
		c.logger.Error("HEIC decode failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	progress(50)

	img := imaging.Clone(src)
	if opts.FastMode {
		img = capDimensions(img, fastModeMaxDim)
	}
	bounds := img.Bounds()
	progress(65)

	var out bytes.Buffer
	switch opts.Format {
	case "jpeg":
		err = imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(opts.Quality))
	case "png":
		err = imaging.Encode(&out, img, imaging.PNG)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrEncodeFailed, opts.Format)
	}
	if err != nil {
		c.logger.Error("output encode failed",
			zap.String("format", opts.Format),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	progress(90)

	preview, err := encodePreview(img)
	if err != nil {
		// A missing preview is not worth failing the conversion over.
		c.logger.Warn("preview encode failed", zap.Error(err))
		preview = nil
	}
	progress(100)

	return &Result{
		Data:    out.Bytes(),
		Preview: preview,
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
	}, nil
}

// encodePreview renders a thumbnail bounded by 400x300 as JPEG q85.
func encodePreview(img image.Image) ([]byte, error) {
	thumb := imaging.Fit(img, previewMaxWidth, previewMaxHeight, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(DefaultQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func capDimensions(img *image.NRGBA, maxDim int) *image.NRGBA {
	bounds := img.Bounds()
	if bounds.Dx() <= maxDim && bounds.Dy() <= maxDim {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Linear)
}
