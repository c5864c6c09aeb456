package imaging

import (
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/math/fixed"

	"github.com/ironsheep/glomeruli-tools/internal/geometry"
)

// OverlayLayer is a set of slide-space polygons drawn in one colour.
type OverlayLayer struct {
	Polygons []geometry.Polygon
	Color    [3]uint8
}

// OverlayOptions control how polygons are mapped onto the image.
type OverlayOptions struct {
	// Downsample is the ratio of slide pixels to image pixels. Zero means 1.
	Downsample float64

	// LineWidth is the outline width in image pixels. Zero means 2.
	LineWidth float64
}

// OverlayResult contains the rendered overlay
type OverlayResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Polygons    int    `json:"polygons"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// Overlay draws the outline of every polygon in layers on a copy of img.
//
// Polygons must be in slide space; they are divided by opts.Downsample to
// reach image coordinates. Later layers are drawn on top of earlier ones.
func Overlay(img image.Image, layers []OverlayLayer, opts OverlayOptions) (*image.RGBA, error) {
	down := opts.Downsample
	if down == 0 {
		down = 1
	}
	if down < 0 {
		return nil, fmt.Errorf("invalid downsample %v", down)
	}
	width := opts.LineWidth
	if width <= 0 {
		width = 2
	}

	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	toImage := geometry.Transform{Scale: down}
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	stroke := rasterx.NewDasher(w, h, scanner)

	for _, layer := range layers {
		stroke.Clear()
		stroke.SetStroke(fixed.Int26_6(width*64), 4*64, rasterx.RoundCap, nil, rasterx.RoundGap, rasterx.Round, nil, 0)
		stroke.SetColor(RGB(layer.Color))

		for _, p := range layer.Polygons {
			if p.Space != geometry.SpaceSlide {
				return nil, fmt.Errorf("overlay polygon: %w: got %s", geometry.ErrWrongSpace, p.Space)
			}
			for i, pt := range p.Ring {
				q := toImage.InversePoint(pt)
				fp := rasterx.ToFixedP(q[0], q[1])
				if i == 0 {
					stroke.Start(fp)
				} else {
					stroke.Line(fp)
				}
			}
			stroke.Stop(true)
		}
		stroke.Draw()
	}

	return dst, nil
}

// RenderOverlay is Overlay with the result encoded as a base64 PNG.
func RenderOverlay(img image.Image, layers []OverlayLayer, opts OverlayOptions) (*OverlayResult, error) {
	out, err := Overlay(img, layers, opts)
	if err != nil {
		return nil, err
	}
	encoded, err := EncodePNG(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode overlay: %w", err)
	}

	n := 0
	for _, l := range layers {
		n += len(l.Polygons)
	}
	return &OverlayResult{
		Width:       out.Bounds().Dx(),
		Height:      out.Bounds().Dy(),
		Polygons:    n,
		ImageBase64: encoded,
		MimeType:    "image/png",
	}, nil
}

// SaveOverlay renders layers over img and writes the result to path,
// creating its directory. The format follows the file extension.
func SaveOverlay(path string, img image.Image, layers []OverlayLayer, opts OverlayOptions) error {
	out, err := Overlay(img, layers, opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create overlay directory: %w", err)
	}
	if err := imaging.Save(out, path); err != nil {
		return fmt.Errorf("failed to save overlay: %w", err)
	}
	return nil
}
