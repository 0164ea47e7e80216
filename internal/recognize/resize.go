package recognize

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxWidth keeps uploads small enough for the vision endpoints, which
// reject large images with rate-limit errors.
const DefaultMaxWidth = 300

var ErrUnsupportedImage = errors.New("unsupported image format")

// Image is an encoded picture and its MIME type.
type Image struct {
	Data []byte
	MIME string
}

// DataURI renders the image for inline display in HTML.
func (i Image) DataURI() string {
	return "data:" + i.MIME + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Resize scales img down to maxWidth pixels wide, keeping the aspect ratio,
// and re-encodes it as PNG. Images already narrow enough are returned as they
// came. PNG, JPEG, GIF and WebP are accepted.
func Resize(data []byte, maxWidth int) (Image, error) {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	b := src.Bounds()
	if b.Dx() <= maxWidth {
		return Image{Data: data, MIME: "image/" + format}, nil
	}

	height := maxWidth * b.Dy() / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return Image{}, fmt.Errorf("encode png: %w", err)
	}
	return Image{Data: buf.Bytes(), MIME: "image/png"}, nil
}
