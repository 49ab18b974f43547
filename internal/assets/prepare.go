// Package assets turns source images on disk into provider-ready inline
// payloads: bounded in dimensions, re-encoded as JPEG, base64 encoded.
package assets

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/vietddude/genflow/internal/core/domain"
)

const (
	DefaultMaxDimension = 2048
	DefaultQuality      = 90
)

// Options bound the prepared payload.
type Options struct {
	// MaxDimension caps both width and height; larger images are scaled
	// down preserving aspect ratio. Zero means DefaultMaxDimension.
	MaxDimension int

	// Quality is the JPEG encode quality (1-100). Zero means DefaultQuality.
	Quality int
}

func (o Options) withDefaults() Options {
	if o.MaxDimension <= 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.Quality <= 0 {
		o.Quality = DefaultQuality
	}
	return o
}

// Prepare loads the image at path and returns an inline payload suitable for
// a generation request.
func Prepare(path string, opts Options) (*domain.InlinePayload, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open source asset %s: %w", path, err)
	}
	return Encode(img, opts)
}

// Encode scales and re-encodes an already decoded image.
func Encode(img image.Image, opts Options) (*domain.InlinePayload, error) {
	opts = opts.withDefaults()

	bounds := img.Bounds()
	if bounds.Dx() > opts.MaxDimension || bounds.Dy() > opts.MaxDimension {
		img = imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(opts.Quality)); err != nil {
		return nil, fmt.Errorf("failed to encode asset: %w", err)
	}

	return &domain.InlinePayload{
		MimeType: "image/jpeg",
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}
