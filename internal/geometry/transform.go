package geometry

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Transform maps mask-local coordinates into slide pixels:
//
//	slide = local*Scale + Offset
//
// Scale is the undersampling factor between the processed raster and the
// native slide resolution. Offset is the tile origin in slide pixels and is
// applied after scaling.
type Transform struct {
	Scale   float64
	OffsetX float64
	OffsetY float64
}

// TileTransform returns the transform for a tile processed at the given
// undersampling factor and located at (offsetX, offsetY) in the slide.
func TileTransform(undersampling, offsetX, offsetY int) Transform {
	return Transform{Scale: float64(undersampling), OffsetX: float64(offsetX), OffsetY: float64(offsetY)}
}

// Point maps a single mask-local point into slide space.
func (t Transform) Point(p orb.Point) orb.Point {
	return orb.Point{p[0]*t.Scale + t.OffsetX, p[1]*t.Scale + t.OffsetY}
}

// InversePoint maps a slide point back into mask-local space.
func (t Transform) InversePoint(p orb.Point) orb.Point {
	return orb.Point{(p[0] - t.OffsetX) / t.Scale, (p[1] - t.OffsetY) / t.Scale}
}

// Apply maps a SpaceMask polygon to SpaceSlide.
func (t Transform) Apply(p Polygon) (Polygon, error) {
	if p.Space != SpaceMask {
		return Polygon{}, fmt.Errorf("%w: transform needs %s, got %s", ErrWrongSpace, SpaceMask, p.Space)
	}
	ring := make(orb.Ring, len(p.Ring))
	for i, pt := range p.Ring {
		ring[i] = t.Point(pt)
	}
	return Polygon{Ring: ring, Space: SpaceSlide}, nil
}

// Invert maps a SpaceSlide polygon back to SpaceMask.
func (t Transform) Invert(p Polygon) (Polygon, error) {
	if p.Space != SpaceSlide {
		return Polygon{}, fmt.Errorf("%w: inverse transform needs %s, got %s", ErrWrongSpace, SpaceSlide, p.Space)
	}
	ring := make(orb.Ring, len(p.Ring))
	for i, pt := range p.Ring {
		ring[i] = t.InversePoint(pt)
	}
	return Polygon{Ring: ring, Space: SpaceMask}, nil
}

// ApplyBox maps a mask-local box into slide space.
func (t Transform) ApplyBox(b Box) Box {
	return Box{
		X1: b.X1*t.Scale + t.OffsetX,
		Y1: b.Y1*t.Scale + t.OffsetY,
		X2: b.X2*t.Scale + t.OffsetX,
		Y2: b.Y2*t.Scale + t.OffsetY,
	}
}
