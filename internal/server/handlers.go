package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ironsheep/glomeruli-tools/internal/annotation"
	"github.com/ironsheep/glomeruli-tools/internal/config"
	"github.com/ironsheep/glomeruli-tools/internal/contour"
	"github.com/ironsheep/glomeruli-tools/internal/geometry"
	"github.com/ironsheep/glomeruli-tools/internal/imaging"
	"github.com/ironsheep/glomeruli-tools/internal/nms"
	"github.com/ironsheep/glomeruli-tools/internal/pipeline"
	"github.com/ironsheep/glomeruli-tools/internal/tile"
	"github.com/ironsheep/glomeruli-tools/internal/tissue"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "wsi_suppress", "wsi_segment_slide").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(params.Name, params.Arguments)
	if err != nil {
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Tile and image information
	case "wsi_parse_tile":
		return s.handleParseTile(args)
	case "wsi_image_info":
		return s.handleImageInfo(args)

	// Core geometry
	case "wsi_suppress":
		return s.handleSuppress(args)
	case "wsi_mask_polygon":
		return s.handleMaskPolygon(args)
	case "wsi_threshold_image":
		return s.handleThresholdImage(args)

	// Slide runs
	case "wsi_segment_slide":
		return s.handleSegmentSlide(args)
	case "wsi_detect_tissue":
		return s.handleDetectTissue(args)

	// Review helpers
	case "wsi_annotation_summary":
		return s.handleAnnotationSummary(args)
	case "wsi_render_overlay":
		return s.handleRenderOverlay(args)
	case "wsi_crop_region":
		return s.handleCropRegion(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// PolygonResult is a slide-space polygon in tool output.
type PolygonResult struct {
	Points  [][2]float64 `json:"points"`
	Bounds  [4]float64   `json:"bounds"`
	AreaUM2 float64      `json:"area_um2"`
}

func polygonResult(p geometry.Polygon, area float64) PolygonResult {
	ring := p.Closed()
	pts := make([][2]float64, len(ring))
	for i, pt := range ring {
		pts[i] = [2]float64{pt[0], pt[1]}
	}
	b := p.Bound()
	return PolygonResult{Points: pts, Bounds: [4]float64{b.X1, b.Y1, b.X2, b.Y2}, AreaUM2: area}
}

// === Tile and Image Information Handlers ===

type parseTileArgs struct {
	ID string `json:"id"`
}

func (s *Server) handleParseTile(args json.RawMessage) (interface{}, error) {
	var a parseTileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return tile.Parse(a.ID)
}

type imageInfoArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleImageInfo(args json.RawMessage) (interface{}, error) {
	var a imageInfoArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return imaging.LoadImageInfo(s.cache, a.Path)
}

// === Core Geometry Handlers ===

type suppressArgs struct {
	Boxes        [][4]float64 `json:"boxes"`
	Scores       []float64    `json:"scores"`
	IoUThreshold float64      `json:"iou_threshold"`
	IoMThreshold float64      `json:"iom_threshold"`
}

// SuppressResult is the output of wsi_suppress.
type SuppressResult struct {
	Keep   []int `json:"keep"`
	Before int   `json:"before"`
	After  int   `json:"after"`
}

func (s *Server) handleSuppress(args json.RawMessage) (interface{}, error) {
	var a suppressArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	opts := s.cfg.SuppressOptions()
	if a.IoUThreshold != 0 {
		opts.IoUThreshold = a.IoUThreshold
	}
	if a.IoMThreshold != 0 {
		opts.IoMThreshold = a.IoMThreshold
	}

	boxes := make([]geometry.Box, len(a.Boxes))
	for i, b := range a.Boxes {
		boxes[i] = geometry.Box{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]}
	}
	keep, err := nms.Suppress(boxes, a.Scores, opts, s.logger)
	if err != nil {
		return nil, err
	}
	return &SuppressResult{Keep: keep, Before: len(boxes), After: len(keep)}, nil
}

type maskPolygonArgs struct {
	Path          string  `json:"path"`
	Undersampling int     `json:"undersampling"`
	X             int     `json:"x"`
	Y             int     `json:"y"`
	PixelSize     float64 `json:"pixel_size"`
}

// MaskPolygonResult is the output of wsi_mask_polygon.
type MaskPolygonResult struct {
	PolygonResult
	// CandidateBox is the slide-space box used for suppression.
	CandidateBox [4]float64 `json:"candidate_box"`
}

func (s *Server) handleMaskPolygon(args json.RawMessage) (interface{}, error) {
	var a maskPolygonArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Undersampling == 0 {
		a.Undersampling = s.cfg.Segment.Undersampling
	}
	if a.PixelSize == 0 {
		a.PixelSize = s.cfg.PixelSizeUM
	}
	if a.Undersampling < 1 {
		return nil, fmt.Errorf("invalid undersampling %d", a.Undersampling)
	}

	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	pts, err := contour.LargestPoints(imaging.BinaryMask(img))
	if err != nil {
		return nil, err
	}
	local, err := geometry.FromImagePoints(pts, geometry.SpaceMask)
	if err != nil {
		return nil, err
	}

	tr := geometry.TileTransform(a.Undersampling, a.X, a.Y)
	poly, err := tr.Apply(local)
	if err != nil {
		return nil, err
	}
	area, err := geometry.AreaUM2(poly, a.PixelSize)
	if err != nil {
		return nil, err
	}
	box := tr.ApplyBox(contour.BoundingRect(pts))
	return &MaskPolygonResult{
		PolygonResult: polygonResult(poly, area),
		CandidateBox:  [4]float64{box.X1, box.Y1, box.X2, box.Y2},
	}, nil
}

type thresholdImageArgs struct {
	Path              string   `json:"path"`
	Undersampling     int      `json:"undersampling"`
	PixelSize         float64  `json:"pixel_size"`
	MinArea           *float64 `json:"min_area"`
	CloseRadius       *int     `json:"close_radius"`
	SimplifyTolerance float64  `json:"simplify_tolerance"`
}

// ThresholdResult is the output of wsi_threshold_image.
type ThresholdResult struct {
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	Level     uint8           `json:"otsu_level"`
	Polygons  []PolygonResult `json:"polygons"`
	BelowArea int             `json:"below_min_area"`
}

func (s *Server) handleThresholdImage(args json.RawMessage) (interface{}, error) {
	var a thresholdImageArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Undersampling == 0 {
		a.Undersampling = s.cfg.Tissue.Undersampling
	}
	if a.Undersampling < 1 {
		return nil, fmt.Errorf("invalid undersampling %d", a.Undersampling)
	}
	filter := s.cfg.AreaFilter()
	if a.PixelSize != 0 {
		filter.PixelSizeUM = a.PixelSize
	}
	if a.MinArea != nil {
		filter.MinAreaUM2 = *a.MinArea
	}
	opts := s.cfg.TissueOptions()
	if a.CloseRadius != nil {
		opts.CloseRadius = *a.CloseRadius
	}
	if a.SimplifyTolerance != 0 {
		opts.SimplifyTolerance = a.SimplifyTolerance
	}

	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	mask, err := tissue.Threshold(img, opts)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	result := &ThresholdResult{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Level:    tissue.OtsuLevel(imaging.Saturation(img)),
		Polygons: []PolygonResult{},
	}
	for _, p := range tissue.Contours(mask, a.Undersampling, opts.SimplifyTolerance, s.logger) {
		area, keep, err := filter.Keep(p)
		if err != nil {
			return nil, err
		}
		if !keep {
			result.BelowArea++
			continue
		}
		result.Polygons = append(result.Polygons, polygonResult(p, area))
	}
	return result, nil
}

// === Slide Run Handlers ===

type slideArgs struct {
	Export  string `json:"export"`
	Slide   string `json:"slide"`
	Config  string `json:"config"`
	Workers int    `json:"workers"`
	Overlay bool   `json:"overlay"`
}

func (a slideArgs) validate() error {
	if a.Export == "" || a.Slide == "" {
		return fmt.Errorf("export and slide are required")
	}
	return nil
}

// runConfig returns the server configuration, or the file named by path.
func (s *Server) runConfig(path string) (config.Config, error) {
	if path == "" {
		return s.cfg, nil
	}
	return config.LoadConfig(path)
}

func (s *Server) handleSegmentSlide(args json.RawMessage) (interface{}, error) {
	var a slideArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	cfg, err := s.runConfig(a.Config)
	if err != nil {
		return nil, err
	}
	if a.Workers > 0 {
		cfg.Segment.Workers = a.Workers
	}

	det, err := s.newDetector(cfg.Detector)
	if err != nil {
		return nil, err
	}
	defer det.Close()

	seg := &pipeline.Segmenter{
		Config:   cfg,
		Detector: det,
		Layout:   pipeline.Layout{Root: a.Export},
		Cache:    s.cache,
		Overlay:  a.Overlay,
		Logger:   s.logger,
	}
	return seg.Run(context.Background(), a.Slide)
}

func (s *Server) handleDetectTissue(args json.RawMessage) (interface{}, error) {
	var a slideArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	cfg, err := s.runConfig(a.Config)
	if err != nil {
		return nil, err
	}

	td := &pipeline.TissueDetector{
		Config: cfg,
		Layout: pipeline.Layout{Root: a.Export},
		Logger: s.logger,
	}
	return td.Run(context.Background(), a.Slide)
}

// === Review Helper Handlers ===

type annotationSummaryArgs struct {
	Path      string  `json:"path"`
	PixelSize float64 `json:"pixel_size"`
}

func (s *Server) handleAnnotationSummary(args json.RawMessage) (interface{}, error) {
	var a annotationSummaryArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.PixelSize == 0 {
		a.PixelSize = s.cfg.PixelSizeUM
	}
	set, err := annotation.Read(a.Path)
	if err != nil {
		return nil, err
	}
	sum := pipeline.SummarizeSet("", set, a.PixelSize)
	sum.Output = a.Path
	return sum, nil
}

type renderOverlayArgs struct {
	Image       string   `json:"image"`
	Annotations []string `json:"annotations"`
	Downsample  float64  `json:"downsample"`
	LineWidth   float64  `json:"line_width"`
	Color       string   `json:"color"`
	Output      string   `json:"output"`
}

// SavedOverlay is returned by wsi_render_overlay when the overlay is written
// to disk.
type SavedOverlay struct {
	Path     string `json:"path"`
	Polygons int    `json:"polygons"`
}

func (s *Server) handleRenderOverlay(args json.RawMessage) (interface{}, error) {
	var a renderOverlayArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Downsample == 0 {
		a.Downsample = float64(s.cfg.Tissue.Undersampling)
	}

	img, err := s.cache.Load(a.Image)
	if err != nil {
		return nil, err
	}
	layers, count, err := overlayLayers(a.Annotations)
	if err != nil {
		return nil, err
	}
	if a.Color != "" {
		c, err := imaging.ParseHexColor(a.Color)
		if err != nil {
			return nil, err
		}
		merged := imaging.OverlayLayer{Color: [3]uint8{c.R, c.G, c.B}}
		for _, l := range layers {
			merged.Polygons = append(merged.Polygons, l.Polygons...)
		}
		layers = []imaging.OverlayLayer{merged}
	}
	opts := imaging.OverlayOptions{Downsample: a.Downsample, LineWidth: a.LineWidth}

	if a.Output != "" {
		if err := imaging.SaveOverlay(a.Output, img, layers, opts); err != nil {
			return nil, err
		}
		return &SavedOverlay{Path: a.Output, Polygons: count}, nil
	}
	return imaging.RenderOverlay(img, layers, opts)
}

// overlayLayers reads annotation documents and groups their polygons by
// classification colour, preserving first-seen colour order.
func overlayLayers(paths []string) ([]imaging.OverlayLayer, int, error) {
	var layers []imaging.OverlayLayer
	index := map[[3]uint8]int{}
	count := 0
	for _, path := range paths {
		set, err := annotation.Read(path)
		if err != nil {
			return nil, 0, err
		}
		for _, an := range set.Annotations {
			i, ok := index[an.Color]
			if !ok {
				i = len(layers)
				index[an.Color] = i
				layers = append(layers, imaging.OverlayLayer{Color: an.Color})
			}
			layers[i].Polygons = append(layers[i].Polygons, an.Polygon)
			count++
		}
	}
	return layers, count, nil
}

type cropRegionArgs struct {
	Path    string  `json:"path"`
	X1      float64 `json:"x1"`
	Y1      float64 `json:"y1"`
	X2      float64 `json:"x2"`
	Y2      float64 `json:"y2"`
	Padding int     `json:"padding"`
	Scale   float64 `json:"scale"`
}

func (s *Server) handleCropRegion(args json.RawMessage) (interface{}, error) {
	var a cropRegionArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	return imaging.Crop(img, geometry.Box{X1: a.X1, Y1: a.Y1, X2: a.X2, Y2: a.Y2}, a.Padding, a.Scale)
}
