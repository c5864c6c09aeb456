package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v2"
	"golang.org/x/term"

	"github.com/ironsheep/glomeruli-tools/internal/annotation"
	"github.com/ironsheep/glomeruli-tools/internal/config"
	"github.com/ironsheep/glomeruli-tools/internal/detector"
	"github.com/ironsheep/glomeruli-tools/internal/geometry"
	"github.com/ironsheep/glomeruli-tools/internal/nms"
	"github.com/ironsheep/glomeruli-tools/internal/pipeline"
)

var errUsage = errors.New("usage")

// runFlags are shared by the slide commands. Zero values leave the
// configured value in place.
type runFlags struct {
	wsi        string
	export     string
	configPath string

	undersampling int
	pixelSize     float64
	iou           float64
	iom           float64
	minArea       float64
	workers       int
	overlay       bool
}

func (f *runFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.wsi, "wsi", "", "slide name (directory under the tiler output)")
	fs.StringVar(&f.export, "export", "", "export root directory")
	fs.StringVar(&f.configPath, "config", "", "configuration file (JSON, YAML or TOML)")
	fs.IntVar(&f.undersampling, "undersampling", 0, "slide pixels per image pixel (default 4 for segment, 20 for threshold)")
	fs.Float64Var(&f.pixelSize, "pixel-size", 0, "slide pixel size in micrometres (default 0.5)")
	fs.Float64Var(&f.iou, "iou", 0, "IoU suppression threshold (default 0.4)")
	fs.Float64Var(&f.iom, "iom", 0, "IoM suppression threshold (default 0.4)")
	fs.Float64Var(&f.minArea, "min-area", 0, "minimum polygon area in square micrometres (default 5000)")
	fs.IntVar(&f.workers, "workers", 0, "tiles detected concurrently (default 1)")
	fs.BoolVar(&f.overlay, "overlay", false, "write a QC overlay next to the detections")
}

// load resolves the configuration file, environment and the flags that were
// set explicitly on the command line.
func (f *runFlags) load(fs *flag.FlagSet, tissuePass bool) (config.Config, error) {
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return cfg, err
	}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "undersampling":
			if tissuePass {
				cfg.Tissue.Undersampling = f.undersampling
			} else {
				cfg.Segment.Undersampling = f.undersampling
			}
		case "pixel-size":
			cfg.PixelSizeUM = f.pixelSize
		case "iou":
			cfg.Segment.IoUThreshold = f.iou
		case "iom":
			cfg.Segment.IoMThreshold = f.iom
		case "min-area":
			cfg.MinAreaUM2 = f.minArea
		case "workers":
			cfg.Segment.Workers = f.workers
		}
	})
	return cfg, cfg.Validate()
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}
	return nil
}

// ignoreHelp turns a -h request into success.
func ignoreHelp(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

func debugEnabled() bool {
	return os.Getenv("GLOMERULI_LOG_LEVEL") == "debug"
}

func newLogger(w io.Writer) *log.Logger {
	flags := log.Ldate | log.Ltime
	if debugEnabled() {
		flags |= log.Lshortfile
	}
	return log.New(w, "", flags)
}

// progress returns a per-tile progress callback drawing a bar on stderr when
// it is a terminal, and a function that finishes the bar.
func progress(stderr io.Writer, desc string) (func(done, total int), func()) {
	f, ok := stderr.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil, func() {}
	}
	var bar *progressbar.ProgressBar
	update := func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(stderr),
				progressbar.OptionSetDescription(desc))
		}
		bar.Add(1)
	}
	finish := func() {
		if bar != nil {
			bar.Finish()
			fmt.Fprintln(stderr)
		}
	}
	return update, finish
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type healthChecker interface {
	Health(ctx context.Context) error
}

// newSegmenter builds a Segmenter and opens its detector. The caller closes
// the detector.
func newSegmenter(ctx context.Context, cfg config.Config, export string, overlay bool, logger *log.Logger) (*pipeline.Segmenter, error) {
	det, err := detector.New(cfg.Detector)
	if err != nil {
		return nil, err
	}
	if h, ok := det.(healthChecker); ok {
		if err := h.Health(ctx); err != nil {
			det.Close()
			return nil, fmt.Errorf("detector not ready: %w", err)
		}
	}
	return &pipeline.Segmenter{
		Config:   cfg,
		Detector: det,
		Layout:   pipeline.Layout{Root: export},
		Overlay:  overlay,
		Logger:   logger,
	}, nil
}

func runSegment(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("segment", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var f runFlags
	f.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return ignoreHelp(err)
	}
	if f.wsi == "" || f.export == "" {
		return fmt.Errorf("--wsi and --export are required")
	}
	cfg, err := f.load(fs, false)
	if err != nil {
		return err
	}

	update, finish := progress(stderr, f.wsi)
	logger := newLogger(stderr)
	if update != nil && !debugEnabled() {
		logger.SetOutput(io.Discard)
	}

	seg, err := newSegmenter(ctx, cfg, f.export, f.overlay, logger)
	if err != nil {
		return err
	}
	defer seg.Detector.Close()
	seg.Progress = update

	sum, err := seg.Run(ctx, f.wsi)
	finish()
	if err != nil {
		return err
	}
	return writeJSON(stdout, sum)
}

func runThreshold(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("threshold", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var f runFlags
	f.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return ignoreHelp(err)
	}
	if f.wsi == "" || f.export == "" {
		return fmt.Errorf("--wsi and --export are required")
	}
	cfg, err := f.load(fs, true)
	if err != nil {
		return err
	}

	td := &pipeline.TissueDetector{
		Config: cfg,
		Layout: pipeline.Layout{Root: f.export},
		Logger: newLogger(stderr),
	}
	sum, err := td.Run(ctx, f.wsi)
	if err != nil {
		return err
	}
	return writeJSON(stdout, sum)
}

// suppressInput is the JSON document read by the suppress command.
type suppressInput struct {
	Boxes  [][4]float64 `json:"boxes"`
	Scores []float64    `json:"scores"`
}

type suppressOutput struct {
	Keep   []int `json:"keep"`
	Before int   `json:"before"`
	After  int   `json:"after"`
}

func runSuppress(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("suppress", flag.ContinueOnError)
	fs.SetOutput(stderr)
	input := fs.String("input", "-", "JSON file with boxes and scores, - for stdin")
	iou := fs.Float64("iou", nms.DefaultIoUThreshold, "IoU suppression threshold")
	iom := fs.Float64("iom", nms.DefaultIoMThreshold, "IoM suppression threshold")
	if err := parseFlags(fs, args); err != nil {
		return ignoreHelp(err)
	}

	r := stdin
	if *input != "-" {
		file, err := os.Open(*input)
		if err != nil {
			return err
		}
		defer file.Close()
		r = file
	}

	var in suppressInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	boxes := make([]geometry.Box, len(in.Boxes))
	for i, b := range in.Boxes {
		boxes[i] = geometry.Box{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]}
	}

	keep, err := nms.Suppress(boxes, in.Scores, nms.Options{IoUThreshold: *iou, IoMThreshold: *iom}, newLogger(stderr))
	if err != nil {
		return err
	}
	return writeJSON(stdout, suppressOutput{Keep: keep, Before: len(boxes), After: len(keep)})
}

func runSummary(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	fs.SetOutput(stderr)
	pixelSize := fs.Float64("pixel-size", config.DefaultPixelSizeUM, "slide pixel size for features without an area measurement")
	if err := parseFlags(fs, args); err != nil {
		return ignoreHelp(err)
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("at least one annotation document is required")
	}

	summaries := make([]pipeline.Summary, 0, fs.NArg())
	for _, path := range fs.Args() {
		set, err := annotation.Read(path)
		if err != nil {
			return err
		}
		sum := pipeline.SummarizeSet(filepath.Base(filepath.Dir(path)), set, *pixelSize)
		sum.Output = path
		summaries = append(summaries, sum)
	}
	return writeJSON(stdout, summaries)
}

func runWatch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var f runFlags
	f.register(fs)
	settle := fs.Duration("settle", pipeline.DefaultSettle, "quiet time before a slide directory is processed")
	withTissue := fs.Bool("tissue", false, "also run the tissue pass for each slide")
	if err := parseFlags(fs, args); err != nil {
		return ignoreHelp(err)
	}
	if f.export == "" {
		return fmt.Errorf("--export is required")
	}
	cfg, err := f.load(fs, false)
	if err != nil {
		return err
	}

	logger := newLogger(stderr)
	seg, err := newSegmenter(ctx, cfg, f.export, f.overlay, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer seg.Detector.Close()
	td := &pipeline.TissueDetector{Config: cfg, Layout: seg.Layout, Logger: logger}

	w := &pipeline.Watcher{
		Layout: seg.Layout,
		Settle: *settle,
		Logger: logger,
		Run: func(ctx context.Context, slide string) error {
			sum, err := seg.Run(ctx, slide)
			if err != nil {
				return err
			}
			if err := writeJSON(stdout, sum); err != nil {
				return err
			}
			if !*withTissue {
				return nil
			}
			tsum, err := td.Run(ctx, slide)
			if err != nil {
				return err
			}
			return writeJSON(stdout, tsum)
		},
	}

	err = w.Watch(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runConfig(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", "", "configuration file to resolve (JSON, YAML or TOML)")
	out := fs.String("o", "", "write the effective configuration to this JSON file")
	if err := parseFlags(fs, args); err != nil {
		return ignoreHelp(err)
	}

	cfg, err := config.LoadConfig(*path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if *out != "" {
		return cfg.Save(*out)
	}
	return writeJSON(stdout, cfg)
}
