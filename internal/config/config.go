// Package config holds the tunable parameters of a slide run.
//
// Configuration is resolved in layers: built-in defaults, an optional file
// (JSON, YAML or TOML, chosen by extension), GLOMERULI_* environment
// variables, and finally command-line flags applied by the caller. Every
// threshold travels in a Config value so different slides can run with
// different settings in one process.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/glomeruli-tools/internal/geometry"
	"github.com/ironsheep/glomeruli-tools/internal/nms"
	"github.com/ironsheep/glomeruli-tools/internal/tissue"
)

// ErrInvalidConfig is returned by Validate and by environment parsing.
var ErrInvalidConfig = errors.New("invalid configuration")

// Detector back-ends.
const (
	BackendONNX = "onnx"
	BackendHTTP = "http"
)

// Defaults.
const (
	DefaultPixelSizeUM            = 0.5
	DefaultSegmentUndersampling   = 4
	DefaultThresholdUndersampling = 20
	DefaultInputSize              = 800
	DefaultScoreThreshold         = 0.5
	DefaultMaskThreshold          = 0.5
	DefaultTimeoutSeconds         = 120
)

// Config is the full run configuration.
type Config struct {
	// PixelSizeUM is the physical size of one full-resolution slide pixel.
	PixelSizeUM float64 `json:"pixel_size_um" yaml:"pixel_size_um" toml:"pixel_size_um"`

	// MinAreaUM2 is the smallest area kept by both the glomerulus and the
	// tissue layers.
	MinAreaUM2 float64 `json:"min_area_um2" yaml:"min_area_um2" toml:"min_area_um2"`

	Segment  SegmentConfig  `json:"segment" yaml:"segment" toml:"segment"`
	Tissue   TissueConfig   `json:"tissue" yaml:"tissue" toml:"tissue"`
	Detector DetectorConfig `json:"detector" yaml:"detector" toml:"detector"`
}

// SegmentConfig configures the glomerulus segmentation pass.
type SegmentConfig struct {
	Undersampling int     `json:"undersampling" yaml:"undersampling" toml:"undersampling"`
	IoUThreshold  float64 `json:"iou_threshold" yaml:"iou_threshold" toml:"iou_threshold"`
	IoMThreshold  float64 `json:"iom_threshold" yaml:"iom_threshold" toml:"iom_threshold"`
	Workers       int     `json:"workers" yaml:"workers" toml:"workers"`
}

// TissueConfig configures the tissue thresholding pass.
type TissueConfig struct {
	Undersampling     int     `json:"undersampling" yaml:"undersampling" toml:"undersampling"`
	MedianRadius      int     `json:"median_radius" yaml:"median_radius" toml:"median_radius"`
	CloseRadius       int     `json:"close_radius" yaml:"close_radius" toml:"close_radius"`
	SimplifyTolerance float64 `json:"simplify_tolerance" yaml:"simplify_tolerance" toml:"simplify_tolerance"`
}

// DetectorConfig selects and configures the instance-segmentation back-end.
type DetectorConfig struct {
	Backend string `json:"backend" yaml:"backend" toml:"backend"`

	// ONNX back-end.
	ModelPath   string   `json:"model_path" yaml:"model_path" toml:"model_path"`
	LibraryPath string   `json:"library_path" yaml:"library_path" toml:"library_path"`
	InputSize   int      `json:"input_size" yaml:"input_size" toml:"input_size"`
	InputName   string   `json:"input_name" yaml:"input_name" toml:"input_name"`
	OutputNames []string `json:"output_names" yaml:"output_names" toml:"output_names"`

	// HTTP back-end.
	URL            string `json:"url" yaml:"url" toml:"url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`

	ScoreThreshold float64 `json:"score_threshold" yaml:"score_threshold" toml:"score_threshold"`
	MaskThreshold  float64 `json:"mask_threshold" yaml:"mask_threshold" toml:"mask_threshold"`
}

// Default returns a Config with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields. It suits a Config built in code;
// files go through LoadConfig, where an explicit zero is kept.
func (c *Config) ApplyDefaults() {
	if c.PixelSizeUM == 0 {
		c.PixelSizeUM = DefaultPixelSizeUM
	}
	if c.MinAreaUM2 == 0 {
		c.MinAreaUM2 = geometry.DefaultMinAreaUM2
	}

	if c.Segment.Undersampling == 0 {
		c.Segment.Undersampling = DefaultSegmentUndersampling
	}
	if c.Segment.IoUThreshold == 0 {
		c.Segment.IoUThreshold = nms.DefaultIoUThreshold
	}
	if c.Segment.IoMThreshold == 0 {
		c.Segment.IoMThreshold = nms.DefaultIoMThreshold
	}
	if c.Segment.Workers == 0 {
		c.Segment.Workers = 1
	}

	if c.Tissue.Undersampling == 0 {
		c.Tissue.Undersampling = DefaultThresholdUndersampling
	}
	if c.Tissue.MedianRadius == 0 {
		c.Tissue.MedianRadius = tissue.DefaultMedianRadius
	}
	if c.Tissue.CloseRadius == 0 {
		c.Tissue.CloseRadius = tissue.DefaultCloseRadius
	}

	d := &c.Detector
	if d.Backend == "" {
		d.Backend = BackendONNX
	}
	if d.InputSize == 0 {
		d.InputSize = DefaultInputSize
	}
	if d.InputName == "" {
		d.InputName = "image"
	}
	if len(d.OutputNames) == 0 {
		d.OutputNames = []string{"boxes", "scores", "masks"}
	}
	if d.TimeoutSeconds == 0 {
		d.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if d.ScoreThreshold == 0 {
		d.ScoreThreshold = DefaultScoreThreshold
	}
	if d.MaskThreshold == 0 {
		d.MaskThreshold = DefaultMaskThreshold
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	bad := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch {
	case !(c.PixelSizeUM > 0):
		return bad("pixel size must be positive, got %v", c.PixelSizeUM)
	case c.MinAreaUM2 < 0:
		return bad("minimum area must not be negative, got %v", c.MinAreaUM2)
	case c.Segment.Undersampling < 1:
		return bad("segment undersampling must be >= 1, got %d", c.Segment.Undersampling)
	case c.Tissue.Undersampling < 1:
		return bad("tissue undersampling must be >= 1, got %d", c.Tissue.Undersampling)
	case c.Segment.Workers < 1:
		return bad("workers must be >= 1, got %d", c.Segment.Workers)
	case c.Tissue.CloseRadius < 0:
		return bad("close radius must not be negative, got %d", c.Tissue.CloseRadius)
	case c.Tissue.SimplifyTolerance < 0:
		return bad("simplify tolerance must not be negative, got %v", c.Tissue.SimplifyTolerance)
	}
	if err := c.SuppressOptions().Validate(); err != nil {
		return bad("%v", err)
	}

	d := c.Detector
	switch d.Backend {
	case BackendONNX:
		if len(d.OutputNames) != 3 {
			return bad("onnx back-end needs 3 output names (boxes, scores, masks), got %d", len(d.OutputNames))
		}
		if d.InputSize < 1 {
			return bad("input size must be positive, got %d", d.InputSize)
		}
	case BackendHTTP:
		if d.URL == "" {
			return bad("http back-end needs a detector url")
		}
	default:
		return bad("unknown detector back-end %q", d.Backend)
	}
	if d.ScoreThreshold < 0 || d.ScoreThreshold > 1 {
		return bad("score threshold must be in [0, 1], got %v", d.ScoreThreshold)
	}
	if d.MaskThreshold <= 0 || d.MaskThreshold >= 1 {
		return bad("mask threshold must be in (0, 1), got %v", d.MaskThreshold)
	}
	return nil
}

// SuppressOptions returns the overlap-suppression thresholds.
func (c Config) SuppressOptions() nms.Options {
	return nms.Options{IoUThreshold: c.Segment.IoUThreshold, IoMThreshold: c.Segment.IoMThreshold}
}

// TissueOptions returns the tissue thresholding options.
func (c Config) TissueOptions() tissue.Options {
	return tissue.Options{
		MedianRadius:      c.Tissue.MedianRadius,
		CloseRadius:       c.Tissue.CloseRadius,
		SimplifyTolerance: c.Tissue.SimplifyTolerance,
	}
}

// AreaFilter returns the minimum-area filter shared by both layers.
func (c Config) AreaFilter() geometry.AreaFilter {
	return geometry.AreaFilter{MinAreaUM2: c.MinAreaUM2, PixelSizeUM: c.PixelSizeUM}
}

// LoadConfig decodes path over the defaults and then applies environment
// overrides. Keys absent from the file keep their default; a value present in
// the file is used as written, zero included. An empty path yields the
// defaults plus environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return json.Unmarshal(data, cfg)
	}
}

// Save writes cfg to path as indented JSON.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
