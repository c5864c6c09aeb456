package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Tile and image information
		{
			Name:        "wsi_parse_tile",
			Description: "Decode the slide offset and size embedded in a tile file name such as 'slide [x=4096,y=0,w=4096,h=4096].png'.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": map[string]interface{}{
						"type":        "string",
						"description": "Tile file name or path",
					},
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        "wsi_image_info",
			Description: "Load a tile or low-resolution image and return its dimensions, format and file size.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},

		// Core geometry
		{
			Name:        "wsi_suppress",
			Description: "Remove duplicate detections with two-criterion non-maximum suppression. A box is dropped when it overlaps a higher-scoring kept box with IoU or IoM at or above the thresholds. Returns the kept indices in ascending order.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"boxes": map[string]interface{}{
						"type":        "array",
						"description": "Boxes as [x1, y1, x2, y2] in slide pixels",
						"items": map[string]interface{}{
							"type":     "array",
							"items":    map[string]interface{}{"type": "number"},
							"minItems": 4,
							"maxItems": 4,
						},
					},
					"scores": map[string]interface{}{
						"type":        "array",
						"description": "Confidence score of each box",
						"items":       map[string]interface{}{"type": "number"},
					},
					"iou_threshold": map[string]interface{}{
						"type":        "number",
						"description": "Intersection-over-union threshold in (0, 1]. Default 0.4",
						"default":     0.4,
					},
					"iom_threshold": map[string]interface{}{
						"type":        "number",
						"description": "Intersection-over-minimum threshold in (0, 1]. Default 0.4",
						"default":     0.4,
					},
				},
				"required": []string{"boxes", "scores"},
			},
		},
		{
			Name:        "wsi_mask_polygon",
			Description: "Extract the largest outer contour of a binary mask image and map it to slide coordinates. Returns the polygon, its bounding box and its area in square micrometres.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the mask image; any non-black pixel is foreground",
					},
					"undersampling": map[string]interface{}{
						"type":        "integer",
						"description": "Ratio of slide pixels to mask pixels. Default 4",
						"default":     4,
					},
					"x": map[string]interface{}{
						"type":        "integer",
						"description": "Tile X offset in slide pixels",
					},
					"y": map[string]interface{}{
						"type":        "integer",
						"description": "Tile Y offset in slide pixels",
					},
					"pixel_size": map[string]interface{}{
						"type":        "number",
						"description": "Slide pixel size in micrometres. Default 0.5",
						"default":     0.5,
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "wsi_threshold_image",
			Description: "Segment tissue in a low-resolution image (HSV saturation, Otsu threshold, elliptical closing) and return the tissue polygons in slide coordinates that pass the minimum area.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the low-resolution image",
					},
					"undersampling": map[string]interface{}{
						"type":        "integer",
						"description": "Ratio of slide pixels to image pixels. Default 20",
						"default":     20,
					},
					"pixel_size": map[string]interface{}{
						"type":        "number",
						"description": "Slide pixel size in micrometres. Default 0.5",
					},
					"min_area": map[string]interface{}{
						"type":        "number",
						"description": "Minimum polygon area in square micrometres. Default 5000",
					},
					"close_radius": map[string]interface{}{
						"type":        "integer",
						"description": "Radius of the closing kernel in image pixels. Default 5",
					},
					"simplify_tolerance": map[string]interface{}{
						"type":        "number",
						"description": "Douglas-Peucker tolerance in slide pixels. Default 0 (off)",
					},
				},
				"required": []string{"path"},
			},
		},

		// Slide runs
		{
			Name:        "wsi_segment_slide",
			Description: "Run glomerulus segmentation over every tile of a slide in an export directory, de-duplicate across tiles, filter by area and write detections.geojson. Returns a run summary.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"export": map[string]interface{}{
						"type":        "string",
						"description": "Export root containing Temp/tiler-output/Tiles/<slide>",
					},
					"slide": map[string]interface{}{
						"type":        "string",
						"description": "Slide name",
					},
					"config": map[string]interface{}{
						"type":        "string",
						"description": "Optional configuration file (JSON, YAML or TOML)",
					},
					"workers": map[string]interface{}{
						"type":        "integer",
						"description": "Number of tiles detected concurrently",
					},
					"overlay": map[string]interface{}{
						"type":        "boolean",
						"description": "Also write a QC overlay on the first low-resolution image",
					},
				},
				"required": []string{"export", "slide"},
			},
		},
		{
			Name:        "wsi_detect_tissue",
			Description: "Threshold every low-resolution image of a slide and write the tissue polygons to annotations.geojson. Returns a run summary.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"export": map[string]interface{}{
						"type":        "string",
						"description": "Export root containing Temp/lowres-output/Images/<slide>",
					},
					"slide": map[string]interface{}{
						"type":        "string",
						"description": "Slide name",
					},
					"config": map[string]interface{}{
						"type":        "string",
						"description": "Optional configuration file (JSON, YAML or TOML)",
					},
				},
				"required": []string{"export", "slide"},
			},
		},

		// Review helpers
		{
			Name:        "wsi_annotation_summary",
			Description: "Read an annotation GeoJSON document and report the polygon count and area statistics (mean, standard deviation, median, min, max) in square micrometres.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the GeoJSON document",
					},
					"pixel_size": map[string]interface{}{
						"type":        "number",
						"description": "Slide pixel size, used when a feature has no area measurement. Default 0.5",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "wsi_render_overlay",
			Description: "Draw the polygons of one or more annotation documents on a low-resolution image, in each annotation's classification colour. Returns base64 PNG, or writes it when output is given.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the low-resolution image",
					},
					"annotations": map[string]interface{}{
						"type":        "array",
						"description": "Paths of GeoJSON annotation documents",
						"items":       map[string]interface{}{"type": "string"},
					},
					"downsample": map[string]interface{}{
						"type":        "number",
						"description": "Ratio of slide pixels to image pixels. Default 20",
						"default":     20,
					},
					"line_width": map[string]interface{}{
						"type":        "number",
						"description": "Outline width in image pixels. Default 2",
						"default":     2,
					},
					"color": map[string]interface{}{
						"type":        "string",
						"description": "Optional hex colour (#RRGGBB) for every outline, replacing the classification colours",
					},
					"output": map[string]interface{}{
						"type":        "string",
						"description": "Optional path to save the overlay instead of returning it",
					},
				},
				"required": []string{"image", "annotations"},
			},
		},
		{
			Name:        "wsi_crop_region",
			Description: "Crop a box from a tile image, with optional padding and scaling, and return it as base64-encoded PNG. Use it to inspect a detection.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
					"x1": map[string]interface{}{
						"type":        "number",
						"description": "Left edge X coordinate",
					},
					"y1": map[string]interface{}{
						"type":        "number",
						"description": "Top edge Y coordinate",
					},
					"x2": map[string]interface{}{
						"type":        "number",
						"description": "Right edge X coordinate (exclusive)",
					},
					"y2": map[string]interface{}{
						"type":        "number",
						"description": "Bottom edge Y coordinate (exclusive)",
					},
					"padding": map[string]interface{}{
						"type":        "integer",
						"description": "Pixels added on every side, clipped to the image. Default 0",
					},
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "Optional scale factor (e.g., 2.0 to double size). Default 1.0",
						"default":     1.0,
					},
				},
				"required": []string{"path", "x1", "y1", "x2", "y2"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
