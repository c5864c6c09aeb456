package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// Saturation returns the HSV saturation channel of img scaled to 0..255.
//
// For each pixel S = (max - min) / max over its R, G and B components, with
// S = 0 for black. Fully transparent pixels are treated as black. The result
// has the same size as img with its origin at (0,0).
func Saturation(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := 0; y < b.Dy(); y++ {
		row := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
		for x := range row {
			c, ok := colorful.MakeColor(img.At(b.Min.X+x, b.Min.Y+y))
			if !ok {
				continue
			}
			_, s, _ := c.Hsv()
			row[x] = uint8(math.Round(s * 255))
		}
	}
	return out
}

// ParseHexColor parses "#RRGGBB" (the '#' is optional) into an opaque colour.
func ParseHexColor(hex string) (color.RGBA, error) {
	if hex == "" {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] != '#' {
		hex = "#" + hex
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// RGB converts an annotation colour triple into an opaque colour.
func RGB(c [3]uint8) color.RGBA {
	return color.RGBA{R: c[0], G: c[1], B: c[2], A: 255}
}

// Hex formats an annotation colour triple as "#rrggbb".
func Hex(c [3]uint8) string {
	col, _ := colorful.MakeColor(RGB(c))
	return col.Hex()
}
