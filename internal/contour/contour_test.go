package contour

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/ironsheep/glomeruli-tools/internal/geometry"
)

// maskFrom builds a mask where set(x, y) decides foreground.
func maskFrom(w, h int, set func(x, y int) bool) *image.Gray {
	m := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if set(x, y) {
				m.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return m
}

func TestExternal_Square(t *testing.T) {
	m := maskFrom(10, 10, func(x, y int) bool { return x >= 2 && x <= 6 && y >= 3 && y <= 7 })

	contours := External(m)
	if len(contours) != 1 {
		t.Fatalf("contours: got %d, want 1", len(contours))
	}

	want := []image.Point{{2, 3}, {6, 3}, {6, 7}, {2, 7}}
	got := contours[0]
	if len(got) != len(want) {
		t.Fatalf("points: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d: got %v, want %v", i, got[i], want[i])
		}
	}

	if a := Area(got); a != 16 {
		t.Errorf("Area: got %v, want 16", a)
	}
}

func TestLargest_Triangle(t *testing.T) {
	// Right triangle with the right angle at the bottom-left.
	m := maskFrom(12, 12, func(x, y int) bool { return x <= y && y < 10 })

	p, err := Largest(m)
	if err != nil {
		t.Fatalf("Largest failed: %v", err)
	}
	if p.Len() != 3 {
		t.Fatalf("vertices: got %d (%v), want 3", p.Len(), p.Ring)
	}
	if p.Space != geometry.SpaceMask {
		t.Errorf("Space: got %s, want mask", p.Space)
	}

	corners := map[[2]float64]bool{{0, 0}: false, {0, 9}: false, {9, 9}: false}
	for _, pt := range p.Ring {
		key := [2]float64{pt[0], pt[1]}
		if _, ok := corners[key]; !ok {
			t.Errorf("unexpected vertex %v", pt)
		}
		corners[key] = true
	}
	for k, seen := range corners {
		if !seen {
			t.Errorf("missing vertex %v", k)
		}
	}
}

func TestLargest_TwoPointArtifacts(t *testing.T) {
	// Two disjoint horizontal 2-pixel segments: each traces to 2 points.
	m := maskFrom(10, 10, func(x, y int) bool {
		return (y == 1 && (x == 1 || x == 2)) || (y == 6 && (x == 5 || x == 6))
	})

	if n := len(External(m)); n != 2 {
		t.Fatalf("contours: got %d, want 2", n)
	}

	_, err := Largest(m)
	if !errors.Is(err, geometry.ErrDegenerateGeometry) {
		t.Errorf("expected ErrDegenerateGeometry, got %v", err)
	}
}

func TestLargest_EmptyMask(t *testing.T) {
	m := image.NewGray(image.Rect(0, 0, 8, 8))
	if _, err := Largest(m); !errors.Is(err, ErrEmptyMask) {
		t.Errorf("expected ErrEmptyMask, got %v", err)
	}
}

func TestLargest_SinglePixel(t *testing.T) {
	m := maskFrom(5, 5, func(x, y int) bool { return x == 2 && y == 2 })
	if _, err := Largest(m); !errors.Is(err, geometry.ErrDegenerateGeometry) {
		t.Errorf("expected ErrDegenerateGeometry, got %v", err)
	}
}

func TestLargest_PicksLargestArea(t *testing.T) {
	// Small blob first in raster order, large blob later.
	m := maskFrom(40, 40, func(x, y int) bool {
		small := x >= 1 && x <= 3 && y >= 1 && y <= 3
		large := x >= 10 && x <= 30 && y >= 10 && y <= 30
		return small || large
	})

	pts, err := LargestPoints(m)
	if err != nil {
		t.Fatalf("LargestPoints failed: %v", err)
	}
	if a := Area(pts); a != 400 {
		t.Errorf("Area: got %v, want 400", a)
	}
}

func TestLargest_TieKeepsRasterFirst(t *testing.T) {
	m := maskFrom(30, 30, func(x, y int) bool {
		a := x >= 15 && x <= 19 && y >= 2 && y <= 6
		b := x >= 2 && x <= 6 && y >= 20 && y <= 24
		return a || b
	})

	pts, err := LargestPoints(m)
	if err != nil {
		t.Fatalf("LargestPoints failed: %v", err)
	}
	if pts[0] != (image.Point{X: 15, Y: 2}) {
		t.Errorf("tie should keep the raster-first component, got start %v", pts[0])
	}
}

func TestExternal_IgnoresHoles(t *testing.T) {
	m := maskFrom(12, 12, func(x, y int) bool {
		ring := x >= 1 && x <= 10 && y >= 1 && y <= 10
		hole := x >= 4 && x <= 7 && y >= 4 && y <= 7
		return ring && !hole
	})

	contours := External(m)
	if len(contours) != 1 {
		t.Fatalf("contours: got %d, want 1", len(contours))
	}
	if a := Area(contours[0]); a != 81 {
		t.Errorf("outer Area: got %v, want 81", a)
	}
}

func TestExternal_SkipsIslandsInHoles(t *testing.T) {
	tests := []struct {
		name string
		set  func(x, y int) bool
	}{
		{"island in ring", func(x, y int) bool {
			ring := x >= 2 && x <= 17 && y >= 2 && y <= 17 && !(x >= 4 && x <= 15 && y >= 4 && y <= 15)
			island := x >= 8 && x <= 11 && y >= 8 && y <= 11
			return ring || island
		}},
		{"ring in ring", func(x, y int) bool {
			outer := x >= 1 && x <= 18 && y >= 1 && y <= 18 && !(x >= 3 && x <= 16 && y >= 3 && y <= 16)
			inner := x >= 6 && x <= 13 && y >= 6 && y <= 13 && !(x >= 8 && x <= 11 && y >= 8 && y <= 11)
			return outer || inner
		}},
		{"island in single-pixel ring", func(x, y int) bool {
			ring := (x == 2 || x == 17) && y >= 2 && y <= 17 || (y == 2 || y == 17) && x >= 2 && x <= 17
			return ring || (x == 9 && y == 9)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contours := External(maskFrom(20, 20, tt.set))
			if len(contours) != 1 {
				t.Fatalf("contours: got %d (%v), want 1", len(contours), contours)
			}
			if contours[0][0] != (image.Point{X: 2, Y: 2}) && contours[0][0] != (image.Point{X: 1, Y: 1}) {
				t.Errorf("kept contour should be the outer ring, starts at %v", contours[0][0])
			}
		})
	}
}

func TestExternal_DiagonalGapIsNotAnOpening(t *testing.T) {
	// A diamond is 8-connected, so the pixel at its centre is enclosed.
	m := maskFrom(9, 9, func(x, y int) bool {
		d := abs(x-4) + abs(y-4)
		return d == 3 || (x == 4 && y == 4)
	})
	if n := len(External(m)); n != 1 {
		t.Errorf("contours: got %d, want 1", n)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestExternal_SubImageOffset(t *testing.T) {
	full := maskFrom(20, 20, func(x, y int) bool { return x >= 10 && x <= 14 && y >= 10 && y <= 14 })
	sub := full.SubImage(image.Rect(8, 8, 20, 20)).(*image.Gray)

	contours := External(sub)
	if len(contours) != 1 {
		t.Fatalf("contours: got %d, want 1", len(contours))
	}
	if contours[0][0] != (image.Point{X: 2, Y: 2}) {
		t.Errorf("coordinates should be relative to the sub-image, got %v", contours[0][0])
	}
}

func TestBoundingRect(t *testing.T) {
	box := BoundingRect([]image.Point{{2, 3}, {6, 3}, {6, 7}, {2, 7}})
	want := geometry.Box{X1: 2, Y1: 3, X2: 7, Y2: 8}
	if box != want {
		t.Errorf("BoundingRect: got %+v, want %+v", box, want)
	}
}
