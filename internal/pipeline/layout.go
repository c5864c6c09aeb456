// Package pipeline runs the per-slide passes over the tiler's export layout.
//
// A Segmenter turns the tiles of one slide into a de-duplicated glomerulus
// annotation document; a TissueDetector turns the slide's low-resolution
// images into a tissue annotation document. Both read and write under a
// Layout rooted at the export directory:
//
//	<root>/Temp/tiler-output/Tiles/<slide>/
//	<root>/Temp/lowres-output/Images/<slide>/
//	<root>/Temp/segment-output/Detections/<slide>/detections.geojson
//	<root>/Temp/threshold-output/Annotations/<slide>/annotations.geojson
//
// Slides are independent: each run owns its inputs and its output path.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ironsheep/glomeruli-tools/internal/tile"
)

// Layout resolves slide paths under an export root.
type Layout struct {
	Root string
}

// TilesRoot is the directory holding one tile directory per slide.
func (l Layout) TilesRoot() string {
	return filepath.Join(l.Root, "Temp", "tiler-output", "Tiles")
}

// TilesDir returns the tile directory of a slide.
func (l Layout) TilesDir(slide string) string {
	return filepath.Join(l.TilesRoot(), slide)
}

// LowresDir returns the low-resolution image directory of a slide.
func (l Layout) LowresDir(slide string) string {
	return filepath.Join(l.Root, "Temp", "lowres-output", "Images", slide)
}

// DetectionsDir returns the segmentation output directory of a slide.
func (l Layout) DetectionsDir(slide string) string {
	return filepath.Join(l.Root, "Temp", "segment-output", "Detections", slide)
}

// DetectionsPath returns the glomerulus annotation document of a slide.
func (l Layout) DetectionsPath(slide string) string {
	return filepath.Join(l.DetectionsDir(slide), "detections.geojson")
}

// OverlayPath returns the QC overlay image of a slide.
func (l Layout) OverlayPath(slide string) string {
	return filepath.Join(l.DetectionsDir(slide), "overlay.png")
}

// AnnotationsPath returns the tissue annotation document of a slide.
func (l Layout) AnnotationsPath(slide string) string {
	return filepath.Join(l.Root, "Temp", "threshold-output", "Annotations", slide, "annotations.geojson")
}

// Slides lists the slide names that have a tile directory, sorted.
func (l Layout) Slides() ([]string, error) {
	entries, err := os.ReadDir(l.TilesRoot())
	if err != nil {
		return nil, fmt.Errorf("failed to read tiles root: %w", err)
	}
	var slides []string
	for _, e := range entries {
		if e.IsDir() {
			slides = append(slides, e.Name())
		}
	}
	sort.Strings(slides)
	return slides, nil
}

// LowresImages lists the image files of a slide's low-resolution directory,
// sorted by name.
func (l Layout) LowresImages(slide string) ([]string, error) {
	dir := l.LowresDir(slide)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read lowres directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && tile.IsImageFile(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
