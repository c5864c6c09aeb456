package tissue

import (
	"fmt"
	"image"
	"math"

	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/histogram"

	"github.com/ironsheep/glomeruli-tools/internal/imaging"
)

// Default kernel radii.
const (
	DefaultMedianRadius = 5
	DefaultCloseRadius  = 5
)

// Options control tissue thresholding and contour extraction.
type Options struct {
	// MedianRadius is the radius of the median filter applied to a copy of the
	// input. The filtered copy is computed but not used by the saturation
	// path. Negative disables the step.
	MedianRadius int `json:"median_radius"`

	// CloseRadius is the radius of the elliptical closing kernel. Zero
	// disables closing.
	CloseRadius int `json:"close_radius"`

	// SimplifyTolerance, in slide pixels, enables Douglas-Peucker
	// simplification of tissue polygons when positive.
	SimplifyTolerance float64 `json:"simplify_tolerance"`
}

// DefaultOptions returns the default thresholding options.
func DefaultOptions() Options {
	return Options{
		MedianRadius: DefaultMedianRadius,
		CloseRadius:  DefaultCloseRadius,
	}
}

// Threshold returns the binary tissue mask of img (255 = tissue). The mask
// has the size of img with its origin at (0,0).
func Threshold(img image.Image, opts Options) (*image.Gray, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("empty image")
	}
	if opts.CloseRadius < 0 {
		return nil, fmt.Errorf("invalid close radius %d", opts.CloseRadius)
	}

	// FIXME: the smoothed copy is discarded and saturation is taken from the
	// unfiltered image. Product owners to confirm whether it should feed step 2.
	if opts.MedianRadius > 0 {
		_ = effect.Median(img, float64(opts.MedianRadius))
	}

	sat := imaging.Saturation(img)
	t := OtsuLevel(sat)
	mask := Binarize(sat, t)

	if opts.CloseRadius > 0 {
		mask = Close(mask, opts.CloseRadius)
	}
	return mask, nil
}

// OtsuLevel returns the threshold that maximises the between-class variance
// of gray's histogram. When several levels reach the maximum the lowest wins.
// A uniform image yields 0.
func OtsuLevel(gray *image.Gray) uint8 {
	hist := histogram.NewRGBAHistogram(gray)
	bins := hist.R.Bins

	total := 0
	for _, c := range bins {
		total += c
	}
	if total == 0 {
		return 0
	}

	n := float64(total)
	mu := 0.0
	for i, c := range bins {
		mu += float64(i) * float64(c) / n
	}

	const eps = 1.1920929e-07 // float32 epsilon
	var q1, mu1, maxSigma float64
	level := 0
	for i, c := range bins {
		p := float64(c) / n
		mu1 *= q1
		q1 += p
		q2 := 1 - q1

		if math.Min(q1, q2) < eps || math.Max(q1, q2) > 1-eps {
			continue
		}

		mu1 = (mu1 + float64(i)*p) / q1
		mu2 := (mu - q1*mu1) / q2
		sigma := q1 * q2 * (mu1 - mu2) * (mu1 - mu2)
		if sigma > maxSigma {
			maxSigma = sigma
			level = i
		}
	}
	return uint8(level)
}

// Binarize maps values strictly above t to 255 and everything else to 0.
func Binarize(gray *image.Gray, t uint8) *image.Gray {
	b := gray.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := gray.Pix[gray.PixOffset(b.Min.X, b.Min.Y+y):][:b.Dx()]
		dst := out.Pix[y*out.Stride:][:b.Dx()]
		for x, v := range src {
			if v > t {
				dst[x] = 255
			}
		}
	}
	return out
}
