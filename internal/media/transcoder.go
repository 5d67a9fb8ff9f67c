package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

var (
	// ErrUnsupportedFormat indicates the upload could not be decoded as an image.
	ErrUnsupportedFormat = errors.New("media: unsupported image format")
	// ErrEncodeFailed indicates the resized image could not be re-encoded.
	ErrEncodeFailed = errors.New("media: encode failed")
)

// DefaultJPEGQuality is used when the transcoder is constructed with a
// non-positive quality.
const DefaultJPEGQuality = 85

// Variant is one re-encoded, size-constrained rendition of an upload.
type Variant struct {
	Name        string
	Bytes       []byte
	Width       int
	Height      int
	ContentType string
}

// Transcoder converts uploaded image bytes into bounded JPEG variants.
type Transcoder struct {
	quality int
}

// NewTranscoder builds a transcoder encoding JPEG at the given quality.
func NewTranscoder(quality int) *Transcoder {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Transcoder{quality: quality}
}

// Transcode decodes src, downscales it to fit within maxWidth x maxHeight
// while preserving aspect ratio, and re-encodes it as JPEG. Images already
// inside the box are never upscaled. The generated name is unique per
// invocation.
func (t *Transcoder) Transcode(src []byte, maxWidth, maxHeight int) (Variant, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return Variant{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	resized := imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: t.quality}); err != nil {
		return Variant{}, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}

	bounds := resized.Bounds()
	return Variant{
		Name:        fmt.Sprintf("%s_%dx%d.jpg", uuid.NewString(), maxWidth, maxHeight),
		Bytes:       buf.Bytes(),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		ContentType: "image/jpeg",
	}, nil
}
