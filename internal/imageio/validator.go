// Package imageio validates and decodes untrusted image uploads.
package imageio

import (
	"bytes"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	// Register codecs beyond the jpeg/png/gif set imaging pulls in.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/SyedDaiam9101/detector-service/internal/apperr"
)

// DefaultMaxBytes is the upload limit used when none is configured.
const DefaultMaxBytes int64 = 8 * 1024 * 1024

// DecodedImage is a fully decoded, opaque RGB image.
type DecodedImage struct {
	Image  *image.NRGBA
	Width  int
	Height int
	// Bytes is the size of the encoded payload.
	Bytes int
}

// Validator turns an upload into a DecodedImage or a typed rejection.
type Validator struct {
	MaxBytes int64
}

// NewValidator returns a Validator enforcing maxBytes. Non-positive values
// fall back to DefaultMaxBytes.
func NewValidator(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Validator{MaxBytes: maxBytes}
}

// Validate checks, in order: declared content type, empty payload, size limit
// and decodability. An empty contentType is accepted and left to the decoder.
func (v *Validator) Validate(data []byte, contentType string) (*DecodedImage, error) {
	if err := CheckContentType(contentType); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperr.New(apperr.EmptyPayload, "Empty upload")
	}
	if int64(len(data)) > v.MaxBytes {
		return nil, apperr.New(apperr.PayloadTooLarge, "Image too large")
	}

	img, err := decode(data)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidImage, err, "Invalid image")
	}

	bounds := img.Bounds()
	return &DecodedImage{
		Image:  img,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Bytes:  len(data),
	}, nil
}

// CheckContentType rejects a declared type outside image/*. It needs no body,
// so callers can run it before reading the upload.
func CheckContentType(contentType string) error {
	if contentType != "" && !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return apperr.New(apperr.UnsupportedContentType, "Unsupported content type")
	}
	return nil
}

// decode decodes data and normalizes it to an opaque NRGBA image. Alpha is
// discarded rather than composited, matching a plain RGB conversion.
func decode(data []byte) (img *image.NRGBA, err error) {
	// Some third-party decoders panic on crafted input.
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, errors.Errorf("decoder panic: %v", r)
		}
	}()

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	if b := src.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("image has no pixels")
	}

	out := imaging.Clone(src)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out, nil
}

// ReadLimited reads at most limit+1 bytes from r so that an oversized upload
// can be rejected by Validate without buffering all of it.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errors.Wrap(err, "read upload")
	}
	return data, nil
}
