package geometry

import "math"

// Box is an axis-aligned rectangle. (X1, Y1) is the top-left corner and
// (X2, Y2) the bottom-right corner.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// BoxXYWH builds a Box from an origin and an extent.
func BoxXYWH(x, y, w, h float64) Box {
	return Box{X1: x, Y1: y, X2: x + w, Y2: y + h}
}

func (b Box) Width() float64 {
	return b.X2 - b.X1
}

func (b Box) Height() float64 {
	return b.Y2 - b.Y1
}

// Valid reports whether the box has finite coordinates and positive area.
func (b Box) Valid() bool {
	for _, v := range [4]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Width() > 0 && b.Height() > 0
}

// Area returns the box area, or 0 for boxes with non-positive extent.
func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Intersection returns the area shared by b and o.
func (b Box) Intersection(o Box) float64 {
	w := math.Min(b.X2, o.X2) - math.Max(b.X1, o.X1)
	h := math.Min(b.Y2, o.Y2) - math.Max(b.Y1, o.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns intersection over union.
func (b Box) IoU(o Box) float64 {
	inter := b.Intersection(o)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// IoM returns intersection over the smaller of the two box areas. A small box
// lying entirely inside a large one scores 1 regardless of their size ratio.
func (b Box) IoM(o Box) float64 {
	smaller := math.Min(b.Area(), o.Area())
	if smaller <= 0 {
		return 0
	}
	return b.Intersection(o) / smaller
}
