// Package imaging bounds the memory held by application icons.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	// Register JPEG decoding for icons shipped as .jpg
	_ "image/jpeg"

	"golang.org/x/image/draw"
)

// DefaultMaxEdge is the icon bound in pixels
const DefaultMaxEdge = 96

// Source icons larger than these are refused before decoding
const (
	MaxSourceEdge   = 4096
	MaxSourcePixels = 4096 * 4096
)

// ErrIconTooLarge is returned for icons whose declared size exceeds the source bounds
var ErrIconTooLarge = errors.New("icon too large")

// Downscale returns img scaled to fit within maxEdge x maxEdge, preserving
// aspect ratio. Images already within the bound are returned unchanged.
func Downscale(img image.Image, maxEdge int) image.Image {
	if img == nil || maxEdge <= 0 {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxEdge && h <= maxEdge {
		return img
	}

	nw, nh := maxEdge, maxEdge
	if w > h {
		nh = max(1, h*maxEdge/w)
	} else if h > w {
		nw = max(1, w*maxEdge/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Decode decodes a PNG or JPEG icon. The header is checked first so an
// oversized image is never allocated.
func Decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode icon header: %w", err)
	}
	if cfg.Width > MaxSourceEdge || cfg.Height > MaxSourceEdge ||
		int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return nil, fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrIconTooLarge)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode icon: %w", err)
	}
	return img, nil
}

// EncodePNG encodes an icon as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode icon: %w", err)
	}
	return buf.Bytes(), nil
}
