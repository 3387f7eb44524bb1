// Package media inspects photo payloads and renders preview thumbnails.
package media

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/kimhsiao/crafttrack/internal/errors"
)

// Default preview bounds.
const (
	ThumbnailWidth  = 320
	ThumbnailHeight = 320
)

var contentTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// Info describes a decoded photo.
type Info struct {
	Width       int
	Height      int
	Format      string
	ContentType string
}

// Inspect reads the header of data and reports its dimensions and type.
// Undecodable payloads are a validation error.
func Inspect(data []byte) (*Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "unsupported image payload", err)
	}
	ct, ok := contentTypes[format]
	if !ok {
		return nil, errors.Newf(errors.ErrValidation, "unsupported image format %q", format)
	}
	return &Info{
		Width:       cfg.Width,
		Height:      cfg.Height,
		Format:      format,
		ContentType: ct,
	}, nil
}

// Thumbnail decodes data honoring EXIF orientation and returns a JPEG that
// fits within width x height, preserving aspect ratio.
func Thumbnail(data []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Newf(errors.ErrInvalid, "invalid thumbnail bounds %dx%d", width, height)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "decode image", err)
	}

	thumb := imaging.Fit(img, width, height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "encode thumbnail", err)
	}
	return buf.Bytes(), nil
}
