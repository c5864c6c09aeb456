package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/ironsheep/glomeruli-tools/internal/geometry"
)

// createPatternImage returns an image with red, green, blue and white quadrants.
func createPatternImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var c color.RGBA
			switch {
			case x < width/2 && y < height/2:
				c = color.RGBA{255, 0, 0, 255}
			case x >= width/2 && y < height/2:
				c = color.RGBA{0, 255, 0, 255}
			case x < width/2:
				c = color.RGBA{0, 0, 255, 255}
			default:
				c = color.RGBA{255, 255, 255, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestCrop(t *testing.T) {
	img := createPatternImage(100, 100)

	result, err := Crop(img, geometry.Box{X1: 0, Y1: 0, X2: 50, Y2: 50}, 0, 1.0)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}

	if result.Width != 50 || result.Height != 50 {
		t.Errorf("dimensions: got %dx%d, want 50x50", result.Width, result.Height)
	}
	if result.MimeType != "image/png" {
		t.Errorf("MimeType: got %s, want image/png", result.MimeType)
	}

	decoded, err := base64.StdEncoding.DecodeString(result.ImageBase64)
	if err != nil {
		t.Fatalf("failed to decode base64: %v", err)
	}
	cropped, err := png.Decode(bytes.NewReader(decoded))
	if err != nil {
		t.Fatalf("failed to decode PNG: %v", err)
	}

	r, g, b, _ := cropped.At(25, 25).RGBA()
	if r>>8 != 255 || g>>8 != 0 || b>>8 != 0 {
		t.Errorf("cropped image color: got (%d,%d,%d), want (255,0,0)", r>>8, g>>8, b>>8)
	}
}

func TestCrop_PaddingClipsToBounds(t *testing.T) {
	img := createInMemoryImage(100, 100, color.RGBA{255, 0, 0, 255})

	result, err := Crop(img, geometry.Box{X1: 5, Y1: 80, X2: 20.2, Y2: 95}, 10, 1.0)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}

	want := [4]int{0, 70, 31, 100}
	if result.Region != want {
		t.Errorf("Region: got %v, want %v", result.Region, want)
	}
	if result.Width != 31 || result.Height != 30 {
		t.Errorf("dimensions: got %dx%d, want 31x30", result.Width, result.Height)
	}
}

func TestCrop_WithScale(t *testing.T) {
	img := createInMemoryImage(100, 100, color.RGBA{255, 0, 0, 255})

	result, err := Crop(img, geometry.Box{X1: 0, Y1: 0, X2: 50, Y2: 50}, 0, 2.0)
	if err != nil {
		t.Fatalf("Crop with scale failed: %v", err)
	}
	if result.Width != 100 || result.Height != 100 {
		t.Errorf("scaled dimensions: got %dx%d, want 100x100", result.Width, result.Height)
	}
}

func TestCrop_Invalid(t *testing.T) {
	img := createInMemoryImage(100, 100, color.RGBA{255, 0, 0, 255})

	tests := []struct {
		name string
		box  geometry.Box
	}{
		{"zero area", geometry.Box{X1: 50, Y1: 50, X2: 50, Y2: 50}},
		{"inverted", geometry.Box{X1: 60, Y1: 0, X2: 50, Y2: 50}},
		{"outside image", geometry.Box{X1: 200, Y1: 200, X2: 250, Y2: 250}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Crop(img, tt.box, 0, 1.0); err == nil {
				t.Error("Crop should fail")
			}
		})
	}
}
