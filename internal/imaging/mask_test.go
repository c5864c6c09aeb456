package imaging

import (
	"image"
	"image/color"
	"testing"
)

func TestBinaryMask(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 15, 15))
	src.SetNRGBA(5, 5, color.NRGBA{R: 1, A: 255})
	src.SetNRGBA(10, 12, color.NRGBA{B: 200, A: 0})
	src.SetNRGBA(6, 6, color.NRGBA{A: 255})

	m := BinaryMask(src)
	if m.Bounds() != image.Rect(0, 0, 10, 10) {
		t.Fatalf("bounds: got %v, want origin at 0,0", m.Bounds())
	}

	tests := []struct {
		x, y int
		want uint8
	}{
		{0, 0, 255},
		{5, 7, 0}, // transparent pixels premultiply to zero
		{1, 1, 0},
		{9, 9, 0},
	}
	for _, tt := range tests {
		if got := m.GrayAt(tt.x, tt.y).Y; got != tt.want {
			t.Errorf("(%d,%d): got %d, want %d", tt.x, tt.y, got, tt.want)
		}
	}
}
