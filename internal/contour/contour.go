// Package contour extracts outer boundary polygons from binary masks.
//
// A mask is an *image.Gray in which any non-zero value is foreground.
// Components are 8-connected. Each component's outer boundary is traced with
// Moore-neighbour tracing and compressed to its corner points: runs of
// horizontal, vertical or diagonal steps collapse to their end points.
// Holes are ignored, and so is any component lying inside another
// component's hole: only components that touch the background connected to
// the mask border produce a contour.
//
// Contours are returned in raster order of each component's first pixel
// (top-to-bottom, then left-to-right). Selection of the "largest" contour is
// by enclosed area; raster order only breaks exact ties.
//
// All returned coordinates are 0-based relative to the mask's Bounds().Min.
package contour

import (
	"errors"
	"fmt"
	"image"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/ironsheep/glomeruli-tools/internal/geometry"
)

// ErrEmptyMask is returned when a mask has no foreground pixels.
var ErrEmptyMask = errors.New("mask has no foreground")

// clockwise neighbour offsets starting from west (image coordinates, y down)
var neighbours = [8]image.Point{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

var axial = [4]image.Point{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

type raster struct {
	w, h int
	pix  []bool
}

func newRaster(mask *image.Gray) raster {
	b := mask.Bounds()
	r := raster{w: b.Dx(), h: b.Dy(), pix: make([]bool, b.Dx()*b.Dy())}
	for y := 0; y < r.h; y++ {
		row := mask.Pix[y*mask.Stride : y*mask.Stride+r.w]
		for x, v := range row {
			r.pix[y*r.w+x] = v > 0
		}
	}
	return r
}

func (r raster) at(p image.Point) bool {
	if p.X < 0 || p.Y < 0 || p.X >= r.w || p.Y >= r.h {
		return false
	}
	return r.pix[p.Y*r.w+p.X]
}

// External returns the compressed outer contour of every outermost
// 8-connected foreground component of mask.
func External(mask *image.Gray) [][]image.Point {
	r := newRaster(normalize(mask))
	outside := outerBackground(r)
	visited := make([]bool, len(r.pix))

	var contours [][]image.Point
	for y := 0; y < r.h; y++ {
		for x := 0; x < r.w; x++ {
			i := y*r.w + x
			if !r.pix[i] || visited[i] {
				continue
			}
			if !markComponent(r, visited, outside, x, y) {
				continue
			}
			contours = append(contours, compress(trace(r, image.Point{X: x, Y: y})))
		}
	}
	return contours
}

// outerBackground marks the background pixels 4-connected to the mask
// border. Background enclosed by a component is left unmarked.
func outerBackground(r raster) []bool {
	outside := make([]bool, len(r.pix))
	if len(r.pix) == 0 {
		return outside
	}
	var stack []image.Point
	push := func(x, y int) {
		i := y*r.w + x
		if r.pix[i] || outside[i] {
			return
		}
		outside[i] = true
		stack = append(stack, image.Point{X: x, Y: y})
	}
	for x := 0; x < r.w; x++ {
		push(x, 0)
		push(x, r.h-1)
	}
	for y := 0; y < r.h; y++ {
		push(0, y)
		push(r.w-1, y)
	}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range axial {
			q := p.Add(d)
			if q.X >= 0 && q.Y >= 0 && q.X < r.w && q.Y < r.h {
				push(q.X, q.Y)
			}
		}
	}
	return outside
}

// normalize returns a mask whose Pix starts at Bounds().Min, so rows can be
// indexed from 0.
func normalize(mask *image.Gray) *image.Gray {
	b := mask.Bounds()
	if b.Min == (image.Point{}) {
		return mask
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()], mask.Pix[mask.PixOffset(b.Min.X, b.Min.Y+y):])
	}
	return out
}

// markComponent flood-fills the 8-connected component containing (x, y) and
// reports whether it is outermost, that is 4-adjacent to the image edge or to
// outer background. Iterative so large glomerulus masks cannot overflow the
// stack.
func markComponent(r raster, visited, outside []bool, x, y int) bool {
	outer := false
	stack := []image.Point{{X: x, Y: y}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !r.at(p) || visited[p.Y*r.w+p.X] {
			continue
		}
		visited[p.Y*r.w+p.X] = true

		for _, d := range axial {
			q := p.Add(d)
			if q.X < 0 || q.Y < 0 || q.X >= r.w || q.Y >= r.h || outside[q.Y*r.w+q.X] {
				outer = true
				break
			}
		}
		for _, d := range neighbours {
			stack = append(stack, p.Add(d))
		}
	}
	return outer
}

// next scans the neighbours of cur clockwise, starting just after back, and
// returns the first foreground pixel together with the background pixel
// examined immediately before it.
func next(r raster, cur, back image.Point) (image.Point, image.Point, bool) {
	start := 0
	d := back.Sub(cur)
	for i, n := range neighbours {
		if n == d {
			start = i
			break
		}
	}

	prev := back
	for k := 1; k <= 8; k++ {
		p := cur.Add(neighbours[(start+k)%8])
		if r.at(p) {
			return p, prev, true
		}
		prev = p
	}
	return image.Point{}, image.Point{}, false
}

// trace follows the outer boundary of the component whose raster-first pixel
// is start. The west neighbour of start is always background, which makes it
// the initial backtrack. Tracing stops when start is re-entered and the next
// step would repeat the first move.
func trace(r raster, start image.Point) []image.Point {
	first, back, ok := next(r, start, start.Add(neighbours[0]))
	if !ok {
		return []image.Point{start}
	}

	pts := []image.Point{start}
	cur := first
	limit := 4*len(r.pix) + 8
	for steps := 0; steps < limit; steps++ {
		if cur == start {
			if n, _, _ := next(r, cur, back); n == first {
				break
			}
		}
		pts = append(pts, cur)
		cur, back, _ = next(r, cur, back)
	}
	return pts
}

// compress keeps only the points where the step direction changes.
func compress(pts []image.Point) []image.Point {
	n := len(pts)
	if n < 3 {
		return pts
	}
	out := make([]image.Point, 0, n)
	for i, p := range pts {
		in := p.Sub(pts[(i-1+n)%n])
		outDir := pts[(i+1)%n].Sub(p)
		if in != outDir {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return pts[:1]
	}
	return out
}

// Area returns the unsigned shoelace area enclosed by a contour.
func Area(pts []image.Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	ring := make(orb.Ring, len(pts), len(pts)+1)
	for i, p := range pts {
		ring[i] = orb.Point{float64(p.X), float64(p.Y)}
	}
	ring = append(ring, ring[0])
	return planar.Area(ring)
}

// LargestPoints returns the raw contour enclosing the largest area. Exactly
// equal areas keep the contour found first in raster order.
func LargestPoints(mask *image.Gray) ([]image.Point, error) {
	contours := External(mask)
	if len(contours) == 0 {
		return nil, ErrEmptyMask
	}

	best, bestArea := 0, Area(contours[0])
	for i := 1; i < len(contours); i++ {
		if a := Area(contours[i]); a > bestArea {
			best, bestArea = i, a
		}
	}
	return contours[best], nil
}

// Largest returns the outer boundary of the largest component of mask as a
// mask-space polygon.
//
// It returns ErrEmptyMask for an all-background mask and an error wrapping
// geometry.ErrDegenerateGeometry when the selected contour has fewer than 3
// distinct points (for example a single pixel or a one-pixel line).
func Largest(mask *image.Gray) (geometry.Polygon, error) {
	pts, err := LargestPoints(mask)
	if err != nil {
		return geometry.Polygon{}, err
	}
	p, err := geometry.FromImagePoints(pts, geometry.SpaceMask)
	if err != nil {
		return geometry.Polygon{}, fmt.Errorf("largest contour: %w", err)
	}
	return p, nil
}

// BoundingRect returns the inclusive pixel extent of pts as a box, matching
// the x, y, w, h of a pixel bounding rectangle (w and h count pixels).
func BoundingRect(pts []image.Point) geometry.Box {
	if len(pts) == 0 {
		return geometry.Box{}
	}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := minX, minY
	for _, p := range pts[1:] {
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}
	return geometry.BoxXYWH(float64(minX), float64(minY), float64(maxX-minX+1), float64(maxY-minY+1))
}
