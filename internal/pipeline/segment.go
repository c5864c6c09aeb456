package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"

	"github.com/ironsheep/glomeruli-tools/internal/annotation"
	"github.com/ironsheep/glomeruli-tools/internal/config"
	"github.com/ironsheep/glomeruli-tools/internal/contour"
	"github.com/ironsheep/glomeruli-tools/internal/detector"
	"github.com/ironsheep/glomeruli-tools/internal/geometry"
	"github.com/ironsheep/glomeruli-tools/internal/imaging"
	"github.com/ironsheep/glomeruli-tools/internal/nms"
	"github.com/ironsheep/glomeruli-tools/internal/tile"
)

// Segmenter runs the glomerulus segmentation pass of a slide.
type Segmenter struct {
	Config   config.Config
	Detector detector.Detector
	Layout   Layout

	// Cache, when set, is used to load tile images.
	Cache *imaging.ImageCache

	// Overlay enables writing a QC overlay of the kept polygons on the
	// slide's first low-resolution image.
	Overlay bool

	// Progress, when set, is called from the Run goroutine after each tile.
	Progress func(done, total int)

	Logger *log.Logger
}

// candidate is a detection lifted to slide space for suppression. The contour
// stays in mask space until the detection survives suppression.
type candidate struct {
	tile    tile.Tile
	box     geometry.Box
	score   float64
	contour []image.Point
}

type tileResult struct {
	index      int
	candidates []candidate
	err        error
}

func (s *Segmenter) logger() *log.Logger {
	if s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}

// Run segments one slide and writes its detections document.
//
// Per-detection problems (empty masks, degenerate contours, small polygons)
// are logged and skipped. Failing to list or read tiles, a detector error or
// failing to write the document aborts the slide with a *SlideError.
func (s *Segmenter) Run(ctx context.Context, slide string) (*Summary, error) {
	logger := s.logger()
	cfg := s.Config
	if err := cfg.Validate(); err != nil {
		return nil, slideError(slide, StageConfig, err)
	}
	if s.Detector == nil {
		return nil, slideError(slide, StageConfig, errors.New("no detector"))
	}

	tiles, skipped, err := tile.List(s.Layout.TilesDir(slide))
	if err != nil {
		return nil, slideError(slide, StageList, err)
	}
	for _, e := range skipped {
		logger.Printf("warning: skipping tile: %v", e)
	}
	logger.Printf("info: slide %s: %d tiles with %s detector", slide, len(tiles), s.Detector.Name())

	perTile, err := s.detectAll(ctx, tiles)
	if err != nil {
		return nil, slideError(slide, StageDetect, err)
	}

	var cands []candidate
	for _, c := range perTile {
		cands = append(cands, c...)
	}
	boxes := make([]geometry.Box, len(cands))
	scores := make([]float64, len(cands))
	for i, c := range cands {
		boxes[i] = c.box
		scores[i] = c.score
	}

	logger.Printf("info: before suppression: %d", len(cands))
	keep, err := nms.Suppress(boxes, scores, cfg.SuppressOptions(), logger)
	if err != nil {
		return nil, slideError(slide, StageDetect, err)
	}
	logger.Printf("info: after suppression: %d", len(keep))

	summary := &Summary{
		Slide:        slide,
		Label:        annotation.LabelGlomerulus,
		Color:        imaging.Hex(annotation.ColorGlomerulus),
		Tiles:        len(tiles),
		SkippedTiles: len(skipped),
		Candidates:   len(cands),
		Suppressed:   len(keep),
	}

	filter := cfg.AreaFilter()
	var set annotation.Set
	var areas []float64
	for _, i := range keep {
		c := cands[i]
		local, err := geometry.FromImagePoints(c.contour, geometry.SpaceMask)
		if err != nil {
			summary.Degenerate++
			logger.Printf("warning: %s: skipping detection with score %.3f: %v", c.tile.Name(), c.score, err)
			continue
		}
		poly, err := geometry.TileTransform(cfg.Segment.Undersampling, c.tile.X, c.tile.Y).Apply(local)
		if err != nil {
			return nil, slideError(slide, StageDetect, err)
		}
		area, ok, err := filter.Keep(poly)
		if err != nil {
			return nil, slideError(slide, StageDetect, err)
		}
		if !ok {
			summary.BelowArea++
			logger.Printf("info: %s: removing small polygon with area %.1f um^2 (score %.3f)", c.tile.Name(), area, c.score)
			continue
		}
		set.Add(annotation.Annotation{
			Polygon:      poly,
			Label:        annotation.LabelGlomerulus,
			Color:        annotation.ColorGlomerulus,
			Measurements: map[string]float64{annotation.MeasurementArea: area},
		})
		areas = append(areas, area)
	}

	out := s.Layout.DetectionsPath(slide)
	if err := annotation.Write(out, set); err != nil {
		return nil, slideError(slide, StageExport, err)
	}
	logger.Printf("info: saved %d glomeruli to %s", set.Len(), out)

	summary.Polygons = set.Len()
	summary.Area = ComputeAreaStats(areas)
	summary.Output = out

	if s.Overlay {
		s.writeOverlay(slide, set)
	}
	return summary, nil
}

// detectAll runs the detector over tiles with cfg.Segment.Workers goroutines
// and returns the candidates grouped by tile, in tile order.
func (s *Segmenter) detectAll(ctx context.Context, tiles []tile.Tile) ([][]candidate, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := max(s.Config.Segment.Workers, 1)
	jobs := make(chan int)
	results := make(chan tileResult)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				cands, err := s.detectTile(ctx, tiles[i])
				results <- tileResult{index: i, candidates: cands, err: err}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i := range tiles {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	perTile := make([][]candidate, len(tiles))
	var firstErr error
	done := 0
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
				cancel()
			}
			continue
		}
		perTile[r.index] = r.candidates
		done++
		if s.Progress != nil {
			s.Progress(done, len(tiles))
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil && done < len(tiles) {
		return nil, err
	}
	return perTile, nil
}

func (s *Segmenter) loadTile(path string) (image.Image, error) {
	if s.Cache != nil {
		return s.Cache.Load(path)
	}
	return imaging.Open(path)
}

// detectTile detects glomeruli in one tile and lifts each usable detection's
// largest contour bounding rectangle to slide space.
func (s *Segmenter) detectTile(ctx context.Context, t tile.Tile) ([]candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := s.logger()

	img, err := s.loadTile(t.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name(), err)
	}
	dets, err := s.Detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name(), err)
	}

	toSlide := geometry.TileTransform(s.Config.Segment.Undersampling, t.X, t.Y)
	cands := make([]candidate, 0, len(dets))
	for i, d := range dets {
		if d.Mask == nil {
			logger.Printf("warning: %s: detection %d (score %.3f) has no mask", t.Name(), i, d.Score)
			continue
		}
		pts, err := contour.LargestPoints(d.Mask)
		if err != nil {
			logger.Printf("warning: %s: skipping detection %d (score %.3f): %v", t.Name(), i, d.Score, err)
			continue
		}
		cands = append(cands, candidate{
			tile:    t,
			box:     toSlide.ApplyBox(contour.BoundingRect(pts)),
			score:   d.Score,
			contour: pts,
		})
	}
	return cands, nil
}

// writeOverlay draws the kept polygons on the first low-resolution image of
// the slide. Failures are logged only.
func (s *Segmenter) writeOverlay(slide string, set annotation.Set) {
	logger := s.logger()
	images, err := s.Layout.LowresImages(slide)
	if err != nil || len(images) == 0 {
		logger.Printf("warning: no lowres image for overlay of %s: %v", slide, err)
		return
	}
	img, err := imaging.Open(images[0])
	if err != nil {
		logger.Printf("warning: overlay of %s: %v", slide, err)
		return
	}

	polys := make([]geometry.Polygon, 0, set.Len())
	for _, a := range set.Annotations {
		polys = append(polys, a.Polygon)
	}
	layers := []imaging.OverlayLayer{{Polygons: polys, Color: annotation.ColorGlomerulus}}
	opts := imaging.OverlayOptions{Downsample: float64(s.Config.Tissue.Undersampling)}

	path := s.Layout.OverlayPath(slide)
	if err := imaging.SaveOverlay(path, img, layers, opts); err != nil {
		logger.Printf("warning: overlay of %s: %v", slide, err)
		return
	}
	logger.Printf("info: saved overlay to %s", path)
}
