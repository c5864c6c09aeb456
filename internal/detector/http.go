package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/glomeruli-tools/internal/config"
	"github.com/ironsheep/glomeruli-tools/internal/geometry"
	wsi "github.com/ironsheep/glomeruli-tools/internal/imaging"
)

// HTTPDetector sends tiles to an inference service.
//
// Each tile is posted as a PNG in the multipart field "file" to <url>/predict.
// The service answers with
//
//	{"detections": [{"box": [x1, y1, x2, y2], "score": 0.97, "mask": "<base64 PNG>"}]}
//
// where box is in tile pixels and mask is a tile-sized image whose non-zero
// pixels are foreground.
type HTTPDetector struct {
	baseURL  string
	client   *http.Client
	scoreMin float64

	// Logger receives warnings about detections dropped from a response.
	Logger *log.Logger
}

// NewHTTP returns a detector for the service at cfg.URL.
func NewHTTP(cfg config.DetectorConfig) (*HTTPDetector, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http detector: url is required")
	}
	return &HTTPDetector{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		client:   &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		scoreMin: cfg.ScoreThreshold,
		Logger:   log.Default(),
	}, nil
}

func (d *HTTPDetector) Name() string { return config.BackendHTTP }

func (d *HTTPDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

type wireDetection struct {
	Box   [4]float64 `json:"box"`
	Score float64    `json:"score"`
	Mask  string     `json:"mask"`
}

// Detect posts img to the service.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "tile.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := imaging.Encode(part, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode tile: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/predict", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Detections []wireDetection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	dets := make([]Detection, 0, len(result.Detections))
	for i, w := range result.Detections {
		mask, err := decodeMask(w.Mask)
		if err != nil {
			d.logger().Printf("warning: detection %d (score %.3f): %v", i, w.Score, err)
			continue
		}
		dets = append(dets, Detection{
			Box:   geometry.Box{X1: w.Box[0], Y1: w.Box[1], X2: w.Box[2], Y2: w.Box[3]},
			Mask:  mask,
			Score: w.Score,
		})
	}
	return filterScores(dets, d.scoreMin), nil
}

func (d *HTTPDetector) logger() *log.Logger {
	if d.Logger == nil {
		return log.Default()
	}
	return d.Logger
}

// Health checks that the service answers on <url>/health.
func (d *HTTPDetector) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

// decodeMask decodes a base64 image into a binary mask (0 or 255).
func decodeMask(encoded string) (*image.Gray, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode mask base64: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mask image: %w", err)
	}
	return wsi.BinaryMask(img), nil
}
