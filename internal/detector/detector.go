// Package detector runs glomerulus instance segmentation on tile images.
//
// A Detector turns one tile image into scored instances, each with a box and a
// binary mask in the tile image's own pixel grid (the tile-local undersampled
// space). Two back-ends exist:
//
//   - "onnx" runs an exported model in-process through ONNX Runtime.
//   - "http" posts tiles to an inference service that hosts a compiled model.
//
// The back-end is picked once from configuration by New. Code downstream of
// Detect never needs to know which one produced a detection.
package detector

import (
	"context"
	"fmt"
	"image"

	"github.com/ironsheep/glomeruli-tools/internal/config"
	"github.com/ironsheep/glomeruli-tools/internal/geometry"
)

// Detection is one instance found in a tile. Box and Mask are in the tile
// image's pixel coordinates; Mask covers the whole tile and any non-zero
// value is foreground.
type Detection struct {
	Box   geometry.Box
	Mask  *image.Gray
	Score float64
}

// Detector segments glomeruli in a tile image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
	Name() string
	Close() error
}

// New builds the back-end named by cfg.Backend.
func New(cfg config.DetectorConfig) (Detector, error) {
	switch cfg.Backend {
	case config.BackendONNX:
		return NewONNX(cfg)
	case config.BackendHTTP:
		return NewHTTP(cfg)
	default:
		return nil, fmt.Errorf("unknown detector back-end %q", cfg.Backend)
	}
}

// filterScores drops detections scoring below threshold, preserving order.
func filterScores(dets []Detection, threshold float64) []Detection {
	out := dets[:0]
	for _, d := range dets {
		if d.Score >= threshold {
			out = append(out, d)
		}
	}
	return out
}
