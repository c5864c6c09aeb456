package tissue

import (
	"image"
	"math"
)

// EllipseKernel returns the (2r+1)x(2r+1) elliptical structuring element as
// rows of booleans. Row i spans columns c-dx..c+dx where
// dx = round(r * sqrt(1 - (i-r)²/r²)).
func EllipseKernel(r int) [][]bool {
	size := 2*r + 1
	k := make([][]bool, size)

	invR2 := 0.0
	if r > 0 {
		invR2 = 1 / float64(r*r)
	}
	for i := range k {
		k[i] = make([]bool, size)
		dy := i - r
		if abs(dy) > r {
			continue
		}
		dx := int(math.Round(float64(r) * math.Sqrt(float64(r*r-dy*dy)*invR2)))
		j1 := max(r-dx, 0)
		j2 := min(r+dx+1, size)
		for j := j1; j < j2; j++ {
			k[i][j] = true
		}
	}
	return k
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// kernelOffsets lists the (dx, dy) of every set kernel cell relative to the centre.
func kernelOffsets(r int) []image.Point {
	var offs []image.Point
	for i, row := range EllipseKernel(r) {
		for j, on := range row {
			if on {
				offs = append(offs, image.Point{X: j - r, Y: i - r})
			}
		}
	}
	return offs
}

// Dilate sets a pixel when any in-image pixel under the kernel is set.
func Dilate(mask *image.Gray, r int) *image.Gray {
	return morph(mask, kernelOffsets(r), false)
}

// Erode keeps a pixel only when every in-image pixel under the kernel is set.
// Pixels outside the image are ignored.
func Erode(mask *image.Gray, r int) *image.Gray {
	return morph(mask, kernelOffsets(r), true)
}

// Close is Dilate followed by Erode.
func Close(mask *image.Gray, r int) *image.Gray {
	offs := kernelOffsets(r)
	return morph(morph(mask, offs, false), offs, true)
}

func morph(mask *image.Gray, offs []image.Point, erode bool) *image.Gray {
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))

	set := func(x, y int) bool {
		return mask.Pix[mask.PixOffset(b.Min.X+x, b.Min.Y+y)] > 0
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hit := erode
			for _, o := range offs {
				nx, ny := x+o.X, y+o.Y
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				if set(nx, ny) != erode {
					hit = !erode
					break
				}
			}
			if hit {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}
