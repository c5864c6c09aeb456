// Package nms selects a non-overlapping subset of scored detection boxes.
//
// Whole-slide images are processed as overlapping tiles, so one glomerulus can
// be reported twice: once in full by one tile and once as a small fragment by
// its neighbour. Suppression therefore uses two overlap ratios. IoU catches
// near-identical boxes; IoM (intersection over the smaller box's area) catches
// a fragment lying inside a larger box, where the union is dominated by the
// larger box and IoU stays low.
//
// # Algorithm
//
//  1. Candidates with an invalid box (non-finite or non-positive extent) or a
//     NaN score are dropped with a warning.
//  2. The rest are ordered by descending score, ties by ascending input index.
//  3. Each candidate is compared against every box already kept. It is
//     discarded when IoU >= IoUThreshold or IoM >= IoMThreshold for any of
//     them; otherwise it is kept.
//  4. Kept indices are returned in ascending input order.
//
// A flatbush spatial index limits step 3 to kept boxes that touch the
// candidate. Boxes that do not intersect have IoU = IoM = 0, which is below
// any valid threshold, so the result equals the all-pairs comparison.
package nms

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	flatbush "github.com/bmharper/flatbush-go"

	"github.com/ironsheep/glomeruli-tools/internal/geometry"
)

// ErrInvalidInput is returned for mismatched inputs or out-of-range thresholds.
var ErrInvalidInput = errors.New("invalid suppression input")

// Default thresholds used by the slide pipeline.
const (
	DefaultIoUThreshold = 0.4
	DefaultIoMThreshold = 0.4
)

// Options for suppression.
type Options struct {
	IoUThreshold float64 `json:"iou_threshold"`
	IoMThreshold float64 `json:"iom_threshold"`
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		IoUThreshold: DefaultIoUThreshold,
		IoMThreshold: DefaultIoMThreshold,
	}
}

// Validate checks that both thresholds lie in (0, 1].
func (o Options) Validate() error {
	if !(o.IoUThreshold > 0 && o.IoUThreshold <= 1) {
		return fmt.Errorf("%w: iou threshold %v not in (0, 1]", ErrInvalidInput, o.IoUThreshold)
	}
	if !(o.IoMThreshold > 0 && o.IoMThreshold <= 1) {
		return fmt.Errorf("%w: iom threshold %v not in (0, 1]", ErrInvalidInput, o.IoMThreshold)
	}
	return nil
}

// Suppress returns the indices of the boxes that survive suppression, in
// ascending order. boxes and scores must have the same length. logger may be
// nil, in which case log.Default() is used.
func Suppress(boxes []geometry.Box, scores []float64, opts Options, logger *log.Logger) ([]int, error) {
	if len(boxes) != len(scores) {
		return nil, fmt.Errorf("%w: %d boxes but %d scores", ErrInvalidInput, len(boxes), len(scores))
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	order := make([]int, 0, len(boxes))
	for i, b := range boxes {
		if !b.Valid() || math.IsNaN(scores[i]) {
			logger.Printf("warning: dropping candidate %d before suppression: box %+v score %v", i, b, scores[i])
			continue
		}
		order = append(order, i)
	}
	if len(order) == 0 {
		return []int{}, nil
	}

	// Index only valid boxes; hit k refers to input index valid[k].
	valid := append([]int(nil), order...)
	fb := flatbush.NewFlatbush64()
	fb.Reserve(len(valid))
	for _, i := range valid {
		b := boxes[i]
		fb.Add(b.X1, b.Y1, b.X2, b.Y2)
	}
	fb.Finish()

	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	kept := make([]bool, len(boxes))
	nearby := []int{}
	for _, i := range order {
		b := boxes[i]
		nearby = fb.SearchFast(b.X1, b.Y1, b.X2, b.Y2, nearby)

		suppressed := false
		for _, k := range nearby {
			j := valid[k]
			if !kept[j] {
				continue
			}
			if b.IoU(boxes[j]) >= opts.IoUThreshold || b.IoM(boxes[j]) >= opts.IoMThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept[i] = true
		}
	}

	result := make([]int, 0, len(order))
	for i, k := range kept {
		if k {
			result = append(result, i)
		}
	}
	return result, nil
}
