package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/ironsheep/glomeruli-tools/internal/annotation"
	"github.com/ironsheep/glomeruli-tools/internal/config"
	"github.com/ironsheep/glomeruli-tools/internal/geometry"
	"github.com/ironsheep/glomeruli-tools/internal/pipeline"
)

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRun_Basics(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{"no arguments", nil, 2, "", "Usage"},
		{"version", []string{"--version"}, 0, "glomeruli dev", ""},
		{"help", []string{"help"}, 0, "Commands:", ""},
		{"unknown command", []string{"frobnicate"}, 2, "", `unknown command "frobnicate"`},
		{"bad flag", []string{"segment", "--nope"}, 2, "", "flag provided but not defined"},
		{"command help", []string{"threshold", "-h"}, 0, "", "-undersampling"},
		{"segment without slide", []string{"segment", "--export", "x"}, 1, "", "--wsi and --export are required"},
		{"summary without files", []string{"summary"}, 1, "", "at least one annotation document"},
		{"watch without export", []string{"watch"}, 1, "", "--export is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, errOut := runCmd(t, tt.args...)
			if code != tt.wantCode {
				t.Errorf("exit code: got %d, want %d (stderr %q)", code, tt.wantCode, errOut)
			}
			if !strings.Contains(out, tt.wantOut) {
				t.Errorf("stdout %q does not contain %q", out, tt.wantOut)
			}
			if !strings.Contains(errOut, tt.wantErr) {
				t.Errorf("stderr %q does not contain %q", errOut, tt.wantErr)
			}
		})
	}
}

func TestRun_Suppress(t *testing.T) {
	input := filepath.Join(t.TempDir(), "boxes.json")
	writeFile(t, input, `{
  "boxes": [[0, 0, 100, 100], [5, 5, 105, 105], [300, 300, 340, 340], [90, 90, 100, 100]],
  "scores": [0.8, 0.9, 0.7, 0.95]
}`)

	code, out, errOut := runCmd(t, "suppress", "--input", input)
	if code != 0 {
		t.Fatalf("exit code %d: %s", code, errOut)
	}

	var got suppressOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode output: %v (%s)", err, out)
	}
	// The small box sits inside the first two (IoM 1) and suppresses both;
	// the far box survives.
	if got.Before != 4 || got.After != 2 {
		t.Errorf("counts: got %d -> %d, want 4 -> 2", got.Before, got.After)
	}
	if len(got.Keep) != 2 || got.Keep[0] != 2 || got.Keep[1] != 3 {
		t.Errorf("keep: got %v, want [2 3]", got.Keep)
	}
}

func TestRun_SuppressErrors(t *testing.T) {
	dir := t.TempDir()
	mismatched := filepath.Join(dir, "mismatched.json")
	writeFile(t, mismatched, `{"boxes": [[0, 0, 1, 1]], "scores": []}`)
	garbage := filepath.Join(dir, "garbage.json")
	writeFile(t, garbage, `not json`)

	for _, path := range []string{mismatched, garbage, filepath.Join(dir, "missing.json")} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			if code, _, _ := runCmd(t, "suppress", "--input", path); code != 1 {
				t.Errorf("exit code: got %d, want 1", code)
			}
		})
	}
}

func TestRun_Summary(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "slide-7")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "detections.geojson")

	var set annotation.Set
	for _, side := range []float64{200, 400} {
		p, err := geometry.NewPolygon([]orb.Point{{0, 0}, {side, 0}, {side, side}, {0, side}}, geometry.SpaceSlide)
		if err != nil {
			t.Fatal(err)
		}
		set.Add(annotation.Annotation{Polygon: p, Label: annotation.LabelGlomerulus, Color: annotation.ColorGlomerulus})
	}
	if err := annotation.Write(path, set); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := runCmd(t, "summary", path)
	if code != 0 {
		t.Fatalf("exit code %d: %s", code, errOut)
	}
	var got []pipeline.Summary
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("summaries: got %d, want 1", len(got))
	}
	s := got[0]
	if s.Slide != "slide-7" || s.Label != annotation.LabelGlomerulus || s.Output != path {
		t.Errorf("identity: got %q %q %q", s.Slide, s.Label, s.Output)
	}
	// 40000 and 160000 px² at 0.5 µm/px.
	if s.Polygons != 2 || s.Area.Min != 10000 || s.Area.Max != 40000 || s.Area.Mean != 25000 {
		t.Errorf("stats: got %d polygons, %+v", s.Polygons, s.Area)
	}
}

func TestRun_Config(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "run.yaml")
	writeFile(t, src, "min_area_um2: 2500\nsegment:\n  workers: 3\n")

	code, out, errOut := runCmd(t, "config", "--config", src)
	if code != 0 {
		t.Fatalf("exit code %d: %s", code, errOut)
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if cfg.MinAreaUM2 != 2500 || cfg.Segment.Workers != 3 || cfg.Segment.Undersampling != config.DefaultSegmentUndersampling {
		t.Errorf("effective config: %+v", cfg)
	}

	dst := filepath.Join(dir, "effective.json")
	if code, _, errOut := runCmd(t, "config", "--config", src, "-o", dst); code != 0 {
		t.Fatalf("exit code %d: %s", code, errOut)
	}
	saved, err := config.LoadConfig(dst)
	if err != nil {
		t.Fatalf("LoadConfig(saved) failed: %v", err)
	}
	if saved.MinAreaUM2 != 2500 {
		t.Errorf("saved min area: got %v, want 2500", saved.MinAreaUM2)
	}

	if code, _, _ := runCmd(t, "config", "--config", filepath.Join(dir, "missing.toml")); code != 1 {
		t.Errorf("missing config: exit code %d, want 1", code)
	}
}

func TestRun_Threshold(t *testing.T) {
	root := t.TempDir()
	layout := pipeline.Layout{Root: root}

	img := image.NewRGBA(image.Rect(0, 0, 100, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 100; x++ {
			c := color.RGBA{240, 240, 238, 255}
			if x >= 20 && x < 60 && y >= 20 && y < 60 {
				c = color.RGBA{200, 80, 150, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	writePNG(t, filepath.Join(layout.LowresDir("s"), "s.png"), img)

	code, out, errOut := runCmd(t, "threshold", "--wsi", "s", "--export", root)
	if code != 0 {
		t.Fatalf("exit code %d: %s", code, errOut)
	}
	var sum pipeline.Summary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if sum.Polygons != 1 {
		t.Errorf("polygons: got %d, want 1", sum.Polygons)
	}
	if _, err := os.Stat(layout.AnnotationsPath("s")); err != nil {
		t.Errorf("annotations not written: %v", err)
	}

	if code, _, _ := runCmd(t, "threshold", "--wsi", "missing", "--export", root); code != 1 {
		t.Errorf("missing slide: exit code %d, want 1", code)
	}
}

// squareService answers every tile with one 20x20 square detection.
func squareService(t *testing.T) *httptest.Server {
	t.Helper()
	mask := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 10; y < 30; y++ {
		for x := 10; x < 30; x++ {
			mask.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, mask); err != nil {
		t.Fatal(err)
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"detections": []map[string]interface{}{
				{"box": []float64{10, 10, 30, 30}, "score": 0.9, "mask": encoded},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_Segment(t *testing.T) {
	srv := squareService(t)
	root := t.TempDir()
	layout := pipeline.Layout{Root: root}

	white := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := range white.Pix {
		white.Pix[i] = 255
	}
	writePNG(t, filepath.Join(layout.TilesDir("s"), "s [x=0,y=0,w=256,h=256].png"), white)

	cfgPath := filepath.Join(root, "run.json")
	writeFile(t, cfgPath, `{"detector": {"backend": "http", "url": "`+srv.URL+`"}}`)

	code, out, errOut := runCmd(t, "segment", "--wsi", "s", "--export", root, "--config", cfgPath, "--min-area", "1000", "--overlay")
	if code != 0 {
		t.Fatalf("exit code %d: %s", code, errOut)
	}
	var sum pipeline.Summary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	// Contour corners 10..29 scaled by 4: a 76x76 px square, 1444 µm².
	if sum.Tiles != 1 || sum.Polygons != 1 || sum.Area.Total != 1444 {
		t.Errorf("summary: %+v", sum)
	}

	set, err := annotation.Read(layout.DetectionsPath("s"))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := geometry.Box{X1: 40, Y1: 40, X2: 116, Y2: 116}
	if set.Len() != 1 || set.Annotations[0].Polygon.Bound() != want {
		t.Errorf("detections: got %d, first bound %+v", set.Len(), set.Annotations[0].Polygon.Bound())
	}

	// Default min area (5000 µm²) drops the square.
	code, out, _ = runCmd(t, "segment", "--wsi", "s", "--export", root, "--config", cfgPath)
	if code != 0 {
		t.Fatalf("exit code %d", code)
	}
	sum = pipeline.Summary{}
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if sum.Polygons != 0 || sum.BelowArea != 1 {
		t.Errorf("default min area: polygons %d, below %d", sum.Polygons, sum.BelowArea)
	}
}

func TestRun_SegmentDetectorErrors(t *testing.T) {
	root := t.TempDir()

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{"onnx without model", `{"detector": {"backend": "onnx"}}`, "model"},
		{"unhealthy service", `{"detector": {"backend": "http", "url": "` + unhealthy.URL + `"}}`, "detector not ready"},
		{"invalid config", `{"pixel_size_um": -1}`, "invalid configuration"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(root, string(rune('a'+i))+".json")
			writeFile(t, path, tt.config)
			code, _, errOut := runCmd(t, "segment", "--wsi", "s", "--export", root, "--config", path)
			if code != 1 {
				t.Errorf("exit code: got %d, want 1", code)
			}
			if !strings.Contains(errOut, tt.wantErr) {
				t.Errorf("stderr %q does not contain %q", errOut, tt.wantErr)
			}
		})
	}
}

func TestRun_WatchStopsOnCancel(t *testing.T) {
	srv := squareService(t)
	root := t.TempDir()
	cfgPath := filepath.Join(root, "run.json")
	writeFile(t, cfgPath, `{"detector": {"backend": "http", "url": "`+srv.URL+`"}}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	code := run(ctx, []string{"watch", "--export", root, "--config", cfgPath}, &stdout, &stderr)
	if code != 0 {
		t.Errorf("exit code: got %d, want 0 (stderr %q)", code, stderr.String())
	}
}
