package pipeline

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/glomeruli-tools/internal/annotation"
	"github.com/ironsheep/glomeruli-tools/internal/geometry"
	"github.com/ironsheep/glomeruli-tools/internal/imaging"
)

// Summary describes the outcome of one slide run.
type Summary struct {
	Slide string `json:"slide"`
	Label string `json:"label"`
	Color string `json:"color,omitempty"`

	Tiles        int `json:"tiles,omitempty"`
	SkippedTiles int `json:"skipped_tiles,omitempty"`

	// Candidates counts boxes entering suppression; Suppressed those that
	// survived it. Both are zero for the tissue pass.
	Candidates int `json:"candidates,omitempty"`
	Suppressed int `json:"after_suppression,omitempty"`

	// Polygons is the number of annotations written.
	Polygons   int `json:"polygons"`
	BelowArea  int `json:"below_min_area"`
	Degenerate int `json:"degenerate"`

	Area AreaStats `json:"area_um2"`

	Output string `json:"output,omitempty"`
}

// AreaStats summarises a set of areas in µm².
type AreaStats struct {
	Count  int     `json:"count"`
	Total  float64 `json:"total"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// ComputeAreaStats returns statistics over areas. StdDev is the sample
// standard deviation and is zero for fewer than two values.
func ComputeAreaStats(areas []float64) AreaStats {
	if len(areas) == 0 {
		return AreaStats{}
	}
	sorted := append([]float64(nil), areas...)
	sort.Float64s(sorted)

	s := AreaStats{
		Count:  len(sorted),
		Mean:   stat.Mean(sorted, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
	for _, a := range sorted {
		s.Total += a
	}
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	return s
}

// SummarizeSet builds a summary of an annotation document. Areas come from
// the area measurement when present and are otherwise computed from the
// polygon with pixelSizeUM.
func SummarizeSet(slide string, set annotation.Set, pixelSizeUM float64) Summary {
	s := Summary{Slide: slide, Polygons: set.Len()}
	areas := make([]float64, 0, set.Len())
	for _, a := range set.Annotations {
		if s.Label == "" {
			s.Label = a.Label
			s.Color = imaging.Hex(a.Color)
		}
		if v, ok := a.Measurements[annotation.MeasurementArea]; ok {
			areas = append(areas, v)
			continue
		}
		if v, err := geometry.AreaUM2(a.Polygon, pixelSizeUM); err == nil {
			areas = append(areas, v)
		}
	}
	s.Area = ComputeAreaStats(areas)
	return s
}
