package pipeline

import (
	"context"
	"log"

	"github.com/ironsheep/glomeruli-tools/internal/annotation"
	"github.com/ironsheep/glomeruli-tools/internal/config"
	"github.com/ironsheep/glomeruli-tools/internal/imaging"
	"github.com/ironsheep/glomeruli-tools/internal/tissue"
)

// TissueDetector runs the tissue thresholding pass of a slide.
type TissueDetector struct {
	Config config.Config
	Layout Layout
	Logger *log.Logger
}

// Run thresholds every low-resolution image of the slide and writes all
// tissue polygons that pass the area filter to one annotations document.
func (d *TissueDetector) Run(ctx context.Context, slide string) (*Summary, error) {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	cfg := d.Config
	if err := cfg.Validate(); err != nil {
		return nil, slideError(slide, StageConfig, err)
	}

	images, err := d.Layout.LowresImages(slide)
	if err != nil {
		return nil, slideError(slide, StageList, err)
	}

	summary := &Summary{Slide: slide, Label: annotation.LabelTissue, Color: imaging.Hex(annotation.ColorTissue)}
	opts := cfg.TissueOptions()
	filter := cfg.AreaFilter()

	var set annotation.Set
	var areas []float64
	for _, path := range images {
		if err := ctx.Err(); err != nil {
			return nil, slideError(slide, StageTissue, err)
		}
		img, err := imaging.Open(path)
		if err != nil {
			return nil, slideError(slide, StageTissue, err)
		}
		mask, err := tissue.Threshold(img, opts)
		if err != nil {
			return nil, slideError(slide, StageTissue, err)
		}

		for _, poly := range tissue.Contours(mask, cfg.Tissue.Undersampling, opts.SimplifyTolerance, logger) {
			area, ok, err := filter.Keep(poly)
			if err != nil {
				return nil, slideError(slide, StageTissue, err)
			}
			if !ok {
				summary.BelowArea++
				logger.Printf("info: removing small polygon with area %.1f um^2", area)
				continue
			}
			set.Add(annotation.Annotation{
				Polygon:      poly,
				Label:        annotation.LabelTissue,
				Color:        annotation.ColorTissue,
				Measurements: map[string]float64{annotation.MeasurementArea: area},
			})
			areas = append(areas, area)
		}
	}

	out := d.Layout.AnnotationsPath(slide)
	logger.Printf("info: saving %d tissue polygons to %s", set.Len(), out)
	if err := annotation.Write(out, set); err != nil {
		return nil, slideError(slide, StageExport, err)
	}

	summary.Polygons = set.Len()
	summary.Area = ComputeAreaStats(areas)
	summary.Output = out
	return summary, nil
}
