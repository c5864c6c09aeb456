package tissue

import (
	"image"
	"log"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"

	"github.com/ironsheep/glomeruli-tools/internal/contour"
	"github.com/ironsheep/glomeruli-tools/internal/geometry"
)

// Contours returns every external contour of mask as a slide-space polygon.
//
// Mask coordinates are multiplied by undersampling. Contours with fewer than
// three distinct points are skipped with a warning. When tolerance is
// positive, polygons are simplified with Douglas-Peucker in slide pixels; a
// polygon that would collapse below three points is kept unsimplified.
func Contours(mask *image.Gray, undersampling int, tolerance float64, logger *log.Logger) []geometry.Polygon {
	if logger == nil {
		logger = log.Default()
	}
	toSlide := geometry.TileTransform(undersampling, 0, 0)

	var polys []geometry.Polygon
	for i, pts := range contour.External(mask) {
		local, err := geometry.FromImagePoints(pts, geometry.SpaceMask)
		if err != nil {
			logger.Printf("warning: skipping tissue contour %d: %v", i, err)
			continue
		}
		p, err := toSlide.Apply(local)
		if err != nil {
			logger.Printf("warning: skipping tissue contour %d: %v", i, err)
			continue
		}
		if tolerance > 0 {
			p = simplifyPolygon(p, tolerance)
		}
		polys = append(polys, p)
	}
	return polys
}

func simplifyPolygon(p geometry.Polygon, tolerance float64) geometry.Polygon {
	ring, ok := simplify.DouglasPeucker(tolerance).Simplify(p.Closed()).(orb.Ring)
	if !ok {
		return p
	}
	s, err := geometry.NewPolygon(ring, p.Space)
	if err != nil {
		return p
	}
	return s
}
