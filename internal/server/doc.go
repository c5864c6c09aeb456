// Package server implements the MCP (Model Context Protocol) server for the
// glomerulus slide tools.
//
// The server exposes tile decoding, overlap suppression, mask and tissue
// polygon extraction, whole-slide runs and review helpers as MCP tools, so an
// assistant can drive and inspect a slide's post-processing.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Tile and image information:
//   - wsi_parse_tile: Decode x, y, w, h from a tile file name
//   - wsi_image_info: Dimensions, format and size of an image
//
// Core geometry:
//   - wsi_suppress: Two-criterion (IoU / IoM) non-maximum suppression
//   - wsi_mask_polygon: Largest mask contour in slide coordinates, with area
//   - wsi_threshold_image: Tissue polygons of a low-resolution image
//
// Slide runs:
//   - wsi_segment_slide: Segmentation pass over a slide's tiles
//   - wsi_detect_tissue: Tissue pass over a slide's low-resolution images
//
// Review helpers:
//   - wsi_annotation_summary: Count and area statistics of a document
//   - wsi_render_overlay: Annotation outlines drawn on an image
//   - wsi_crop_region: Crop around a detection
//
// # Image Caching
//
// Images are cached by path with an expiry (see imaging.ImageCache) and
// reused across tool calls, including the tiles read by slide runs.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The Go error string
//
// # Usage
//
//	srv := server.New(cfg, logger)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
