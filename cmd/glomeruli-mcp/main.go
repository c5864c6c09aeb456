package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/ironsheep/glomeruli-tools/internal/config"
	"github.com/ironsheep/glomeruli-tools/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("glomeruli-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("glomeruli-mcp - MCP server for whole-slide glomerulus post-processing")
			fmt.Println()
			fmt.Println("Usage: glomeruli-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables:")
			fmt.Println("  GLOMERULI_LOG_LEVEL=debug      Enable debug and info logging")
			fmt.Println("  GLOMERULI_CONFIG=<path>        Configuration file (JSON, YAML or TOML)")
			fmt.Println("  GLOMERULI_PIXEL_SIZE, GLOMERULI_MIN_AREA, GLOMERULI_WORKERS,")
			fmt.Println("  GLOMERULI_DETECTOR_BACKEND, GLOMERULI_DETECTOR_URL,")
			fmt.Println("  GLOMERULI_MODEL_PATH, GLOMERULI_ORT_LIBRARY   Override configuration")
			fmt.Println()
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			fmt.Println("Configure it in your MCP client.")
			return
		}
	}

	// Configure logging to stderr (stdout is for MCP protocol)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	// Tool runs log per tile; keep them quiet unless debugging
	toolLog := log.New(io.Discard, "", 0)
	if os.Getenv("GLOMERULI_LOG_LEVEL") == "debug" {
		log.Printf("Glomeruli MCP Server v%s (built %s, commit %s)", Version, BuildTime, GitCommit)
		toolLog = log.Default()
	}

	cfg, err := config.LoadConfig(os.Getenv("GLOMERULI_CONFIG"))
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	server.Version = Version
	srv := server.New(cfg, toolLog)
	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
