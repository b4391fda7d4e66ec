// Package validation checks incoming conversion requests before they reach
// the codec.
package validation

import (
	"errors"
	"fmt"
	"strconv"

	"heicConverter/converter/codec"
)

var (
	ErrEmptyBody    = errors.New("request body is empty")
	ErrBodyTooLarge = errors.New("request body exceeds size limit")
	ErrNotHEIC      = errors.New("request body is not a HEIC/HEIF image")
)

// Body verifies size bounds and the HEIC container signature.
func Body(data []byte, maxSize int64) error {
	if len(data) == 0 {
		return ErrEmptyBody
	}
	if int64(len(data)) > maxSize {
		return ErrBodyTooLarge
	}
	if !codec.IsHEIC(data) {
		return ErrNotHEIC
	}
	return nil
}

// Options parses and validates the query parameters of a convert request.
func Options(quality, fast, format string) (codec.Options, error) {
	opts := codec.Options{Quality: codec.DefaultQuality, Format: "jpeg"}

	if quality != "" {
		q, err := strconv.Atoi(quality)
		if err != nil || q < 1 || q > 100 {
			return opts, fmt.Errorf("quality must be an integer between 1 and 100, got %q", quality)
		}
		opts.Quality = q
	}

	if fast != "" {
		f, err := strconv.ParseBool(fast)
		if err != nil {
			return opts, fmt.Errorf("fast must be a boolean, got %q", fast)
		}
		opts.FastMode = f
	}

	switch format {
	case "", "jpg", "jpeg":
		opts.Format = "jpeg"
	case "png":
		opts.Format = "png"
	default:
		return opts, fmt.Errorf("format must be jpeg or png, got %q", format)
	}

	return opts, nil
}
