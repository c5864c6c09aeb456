// Package annotation writes and reads slide annotation layers as GeoJSON
// feature collections in the form understood by slide viewers such as QuPath.
//
// Each annotation becomes one Feature:
//
//	{
//	  "type": "Feature",
//	  "id": "<uuid>",
//	  "geometry": {"type": "Polygon", "coordinates": [[[x, y], ..., [x, y]]]},
//	  "properties": {
//	    "objectType": "annotation",
//	    "classification": {"name": "Glomerulus", "color": [0, 0, 255]},
//	    "measurements": {"Area µm^2": 12345.6}
//	  }
//	}
//
// Coordinates are full-resolution slide pixels and rings are closed.
package annotation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/ironsheep/glomeruli-tools/internal/geometry"
)

// Layer labels and colours used by the slide pipeline.
const (
	LabelGlomerulus = "Glomerulus"
	LabelTissue     = "Tissue"

	// MeasurementArea is the measurement key for physical area.
	MeasurementArea = "Area µm^2"
)

var (
	ColorGlomerulus = [3]uint8{0, 0, 255}
	ColorTissue     = [3]uint8{255, 0, 0}
)

// Annotation is one labelled slide-space polygon.
type Annotation struct {
	Polygon      geometry.Polygon
	Label        string
	Color        [3]uint8
	Measurements map[string]float64
}

// Set is the annotation layer of one slide for one annotation type.
type Set struct {
	Annotations []Annotation
}

// Add appends an annotation to the set.
func (s *Set) Add(a Annotation) {
	s.Annotations = append(s.Annotations, a)
}

// Len returns the number of annotations in the set.
func (s Set) Len() int {
	return len(s.Annotations)
}

// FeatureCollection converts the set to GeoJSON. Every polygon must be in
// slide space.
func (s Set) FeatureCollection() (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	for i, a := range s.Annotations {
		if a.Polygon.Space != geometry.SpaceSlide {
			return nil, fmt.Errorf("annotation %d: %w: got %s", i, geometry.ErrWrongSpace, a.Polygon.Space)
		}
		if a.Polygon.Len() < 3 {
			return nil, fmt.Errorf("annotation %d: %w", i, geometry.ErrDegenerateGeometry)
		}

		f := geojson.NewFeature(orb.Polygon{a.Polygon.Closed()})
		f.ID = uuid.NewString()
		f.Properties["objectType"] = "annotation"
		f.Properties["classification"] = map[string]interface{}{
			"name":  a.Label,
			"color": []int{int(a.Color[0]), int(a.Color[1]), int(a.Color[2])},
		}
		if len(a.Measurements) > 0 {
			f.Properties["measurements"] = a.Measurements
		}
		fc.Append(f)
	}
	return fc, nil
}

// Write serialises set to path.
//
// The document is fully encoded before anything touches the destination, then
// written to a temporary file in the same directory and renamed over path, so
// a failed write never leaves a partial document behind. The destination
// directory is created if needed.
func Write(path string, set Set) error {
	fc, err := set.FeatureCollection()
	if err != nil {
		return err
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode annotations: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create annotation directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write annotations: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write annotations: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize annotations: %w", err)
	}
	return nil
}

// Read parses a document written by Write. Features that are not polygons
// are rejected; only the outer ring of each polygon is kept.
func Read(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("failed to read annotations: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return Set{}, fmt.Errorf("failed to decode annotations: %w", err)
	}

	set := Set{Annotations: make([]Annotation, 0, len(fc.Features))}
	for i, f := range fc.Features {
		poly, ok := f.Geometry.(orb.Polygon)
		if !ok || len(poly) == 0 {
			return Set{}, fmt.Errorf("feature %d: expected polygon geometry, got %T", i, f.Geometry)
		}
		p, err := geometry.NewPolygon(poly[0], geometry.SpaceSlide)
		if err != nil {
			return Set{}, fmt.Errorf("feature %d: %w", i, err)
		}

		a := Annotation{Polygon: p}
		a.Label, a.Color = classification(f.Properties)
		a.Measurements = measurements(f.Properties)
		set.Add(a)
	}
	return set, nil
}

func classification(props geojson.Properties) (string, [3]uint8) {
	var color [3]uint8
	c, ok := props["classification"].(map[string]interface{})
	if !ok {
		return "", color
	}
	name, _ := c["name"].(string)
	if rgb, ok := c["color"].([]interface{}); ok && len(rgb) == 3 {
		for i, v := range rgb {
			if f, ok := v.(float64); ok {
				color[i] = uint8(f)
			}
		}
	}
	return name, color
}

func measurements(props geojson.Properties) map[string]float64 {
	m, ok := props["measurements"].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}
