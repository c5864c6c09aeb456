package geometry

import "fmt"

// DefaultMinAreaUM2 is the smallest plausible glomerulus cross-section in µm².
const DefaultMinAreaUM2 = 5000.0

// PhysicalArea converts an area in slide pixels to µm².
func PhysicalArea(pixelArea, pixelSizeUM float64) float64 {
	return pixelArea * pixelSizeUM * pixelSizeUM
}

// AreaUM2 returns the physical area of a slide-space polygon.
//
// The pixel size describes full-resolution slide pixels, so mask-space
// polygons are rejected with ErrWrongSpace instead of silently producing an
// area that is off by the square of the undersampling factor.
func AreaUM2(p Polygon, pixelSizeUM float64) (float64, error) {
	if p.Space != SpaceSlide {
		return 0, fmt.Errorf("%w: area needs %s, got %s", ErrWrongSpace, SpaceSlide, p.Space)
	}
	return PhysicalArea(p.PixelArea(), pixelSizeUM), nil
}

// AreaFilter drops polygons whose physical area does not exceed MinAreaUM2.
type AreaFilter struct {
	MinAreaUM2  float64
	PixelSizeUM float64
}

// Keep reports whether p passes the filter, along with its area in µm².
// The comparison is strict: a polygon exactly at the threshold is dropped.
func (f AreaFilter) Keep(p Polygon) (float64, bool, error) {
	area, err := AreaUM2(p, f.PixelSizeUM)
	if err != nil {
		return 0, false, err
	}
	return area, area > f.MinAreaUM2, nil
}
