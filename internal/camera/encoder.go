package camera

import (
	"bytes"
	"image"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
)

// DefaultQuality is used when no JPEG quality is configured
const DefaultQuality = 50

// Encoder scales raw captures to the target size and encodes them as JPEG
type Encoder struct {
	Width   int
	Height  int
	Quality int
}

// NewEncoder creates an encoder for a camera configuration
func NewEncoder(cfg Config) Encoder {
	return Encoder{Width: cfg.Width, Height: cfg.Height, Quality: cfg.Quality}
}

// Encode scales img when its size differs from the target and encodes it
func (e Encoder) Encode(img image.Image) ([]byte, error) {
	img = e.scale(img)

	quality := e.Quality
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e Encoder) scale(img image.Image) image.Image {
	if e.Width <= 0 || e.Height <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() == e.Width && b.Dy() == e.Height {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, e.Width, e.Height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
