// Command glomeruli runs the whole-slide glomerulus post-processing passes
// over a tiler export directory.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const usage = `glomeruli - whole-slide glomerulus segmentation post-processing

Usage: glomeruli <command> [flags]

Commands:
  segment     Detect glomeruli in a slide's tiles and write detections.geojson
  threshold   Detect tissue in a slide's low-resolution images and write annotations.geojson
  suppress    Run overlap suppression on boxes and scores read from JSON
  summary     Print count and area statistics of annotation documents
  watch       Segment slides as their tile directories appear under --export
  config      Print the effective configuration

Run 'glomeruli <command> -h' for the flags of a command.

Environment variables:
  GLOMERULI_LOG_LEVEL=debug    Log every tile and detection decision
  GLOMERULI_PIXEL_SIZE, GLOMERULI_MIN_AREA, GLOMERULI_WORKERS,
  GLOMERULI_DETECTOR_BACKEND, GLOMERULI_DETECTOR_URL,
  GLOMERULI_MODEL_PATH, GLOMERULI_ORT_LIBRARY   Override configuration
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "glomeruli %s\n", Version)
		fmt.Fprintf(stdout, "  Build time: %s\n", BuildTime)
		fmt.Fprintf(stdout, "  Git commit: %s\n", GitCommit)
		return 0
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "segment":
		err = runSegment(ctx, args[1:], stdout, stderr)
	case "threshold":
		err = runThreshold(ctx, args[1:], stdout, stderr)
	case "suppress":
		err = runSuppress(args[1:], os.Stdin, stdout, stderr)
	case "summary":
		err = runSummary(args[1:], stdout, stderr)
	case "watch":
		err = runWatch(ctx, args[1:], stdout, stderr)
	case "config":
		err = runConfig(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	if err != nil {
		if err == errUsage {
			return 2
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
