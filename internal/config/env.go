package config

import (
	"fmt"
	"strconv"
)

// Environment variables read by ApplyEnv.
const (
	EnvPixelSize       = "GLOMERULI_PIXEL_SIZE"
	EnvMinArea         = "GLOMERULI_MIN_AREA"
	EnvWorkers         = "GLOMERULI_WORKERS"
	EnvDetectorBackend = "GLOMERULI_DETECTOR_BACKEND"
	EnvDetectorURL     = "GLOMERULI_DETECTOR_URL"
	EnvModelPath       = "GLOMERULI_MODEL_PATH"
	EnvORTLibrary      = "GLOMERULI_ORT_LIBRARY"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from environment variables. Empty values are ignored.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) string {
		if v, ok := lookup(key); ok {
			return v
		}
		return ""
	}

	if v := get(EnvPixelSize); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvPixelSize, v, err)
		}
		c.PixelSizeUM = f
	}
	if v := get(EnvMinArea); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvMinArea, v, err)
		}
		c.MinAreaUM2 = f
	}
	if v := get(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvWorkers, v, err)
		}
		c.Segment.Workers = n
	}
	if v := get(EnvDetectorBackend); v != "" {
		c.Detector.Backend = v
	}
	if v := get(EnvDetectorURL); v != "" {
		c.Detector.URL = v
	}
	if v := get(EnvModelPath); v != "" {
		c.Detector.ModelPath = v
	}
	if v := get(EnvORTLibrary); v != "" {
		c.Detector.LibraryPath = v
	}
	return nil
}
