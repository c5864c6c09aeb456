package geometry

import (
	"errors"
	"fmt"
	"image"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

var (
	// ErrDegenerateGeometry is returned for contours with fewer than 3 distinct points.
	ErrDegenerateGeometry = errors.New("degenerate geometry")

	// ErrWrongSpace is returned when a polygon is not in the space an operation requires.
	ErrWrongSpace = errors.New("polygon in wrong coordinate space")
)

// Space identifies the coordinate space of a polygon.
type Space int

const (
	// SpaceMask is the raster space of a mask or downsampled image.
	SpaceMask Space = iota + 1

	// SpaceSlide is full-resolution slide pixel space.
	SpaceSlide
)

// String returns the space name used in logs and errors.
func (s Space) String() string {
	switch s {
	case SpaceMask:
		return "mask"
	case SpaceSlide:
		return "slide"
	default:
		return fmt.Sprintf("space(%d)", int(s))
	}
}

// Polygon is an ordered, implicitly closed ring of points tagged with its
// coordinate space. The ring never repeats its first point; use Closed for
// formats that require it.
type Polygon struct {
	Ring  orb.Ring
	Space Space
}

// NewPolygon copies points into a Polygon in the given space.
//
// A trailing point equal to the first is dropped. The result must contain at
// least 3 distinct points, otherwise ErrDegenerateGeometry is returned.
func NewPolygon(points []orb.Point, space Space) (Polygon, error) {
	ring := make(orb.Ring, len(points))
	copy(ring, points)
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}

	distinct := make(map[orb.Point]struct{}, len(ring))
	for _, p := range ring {
		distinct[p] = struct{}{}
	}
	if len(distinct) < 3 {
		return Polygon{}, fmt.Errorf("%w: %d distinct points", ErrDegenerateGeometry, len(distinct))
	}

	return Polygon{Ring: ring, Space: space}, nil
}

// FromImagePoints builds a Polygon from integer raster points.
func FromImagePoints(points []image.Point, space Space) (Polygon, error) {
	pts := make([]orb.Point, len(points))
	for i, p := range points {
		pts[i] = orb.Point{float64(p.X), float64(p.Y)}
	}
	return NewPolygon(pts, space)
}

// Len returns the number of vertices (without the closing point).
func (p Polygon) Len() int {
	return len(p.Ring)
}

// Closed returns a copy of the ring with the first point repeated at the end.
func (p Polygon) Closed() orb.Ring {
	ring := make(orb.Ring, 0, len(p.Ring)+1)
	ring = append(ring, p.Ring...)
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}

// PixelArea returns the unsigned shoelace area of the polygon in the units of
// its own space.
func (p Polygon) PixelArea() float64 {
	if len(p.Ring) < 3 {
		return 0
	}
	return planar.Area(p.Closed())
}

// Bound returns the axis-aligned bounding box of the polygon.
func (p Polygon) Bound() Box {
	b := p.Ring.Bound()
	return Box{X1: b.Min.X(), Y1: b.Min.Y(), X2: b.Max.X(), Y2: b.Max.Y()}
}
