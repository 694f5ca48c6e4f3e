package rembg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

const (
	DefaultTolerance = 40.0
	// sampleSize is the side of the thumbnail used to estimate the background.
	sampleSize = 32
)

// ChromaRemBG is a local remover for flat backgrounds. It estimates the
// background colour from the image border and makes every pixel close to
// that colour transparent, with a soft ramp up to 1.5x the tolerance.
type ChromaRemBG struct {
	tolerance float64
}

func NewChromaRemBG(tolerance float64) *ChromaRemBG {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &ChromaRemBG{tolerance: tolerance}
}

func (c *ChromaRemBG) Remove(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	src := toNRGBA(img)

	// Already cut out: re-encode as PNG untouched.
	if !hasUsefulAlpha(src) {
		bg := estimateBackground(src)
		c.key(src, bg)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *ChromaRemBG) key(img *image.NRGBA, bg [3]float64) {
	lo := c.tolerance * c.tolerance
	hi := 2.25 * lo // (1.5 * tolerance)^2
	for i := 0; i < len(img.Pix); i += 4 {
		dr := float64(img.Pix[i]) - bg[0]
		dg := float64(img.Pix[i+1]) - bg[1]
		db := float64(img.Pix[i+2]) - bg[2]
		d := dr*dr + dg*dg + db*db
		switch {
		case d <= lo:
			img.Pix[i+3] = 0
		case d < hi:
			img.Pix[i+3] = uint8(float64(img.Pix[i+3]) * (d - lo) / (hi - lo))
		}
	}
}

// estimateBackground averages the border of a small thumbnail.
func estimateBackground(img *image.NRGBA) [3]float64 {
	thumb := resize.Resize(sampleSize, sampleSize, img, resize.Bilinear)
	b := thumb.Bounds()

	var sum [3]float64
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if x != b.Min.X && x != b.Max.X-1 && y != b.Min.Y && y != b.Max.Y-1 {
				continue
			}
			r, g, bl, _ := thumb.At(x, y).RGBA()
			sum[0] += float64(r >> 8)
			sum[1] += float64(g >> 8)
			sum[2] += float64(bl >> 8)
			n++
		}
	}
	if n == 0 {
		return sum
	}
	return [3]float64{sum[0] / float64(n), sum[1] / float64(n), sum[2] / float64(n)}
}

// hasUsefulAlpha reports whether any pixel is not fully opaque.
func hasUsefulAlpha(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return true
		}
	}
	return false
}

func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
