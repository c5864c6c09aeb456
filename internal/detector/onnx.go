package detector

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/ironsheep/glomeruli-tools/internal/config"
	"github.com/ironsheep/glomeruli-tools/internal/geometry"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// initRuntime loads the ONNX Runtime shared library once per process.
func initRuntime(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// ONNXDetector runs an exported Mask R-CNN style model through ONNX Runtime.
//
// The model takes one float32 tensor [1, 3, S, S] holding the tile resized to
// S x S, channels in BGR order with values 0..255. It returns boxes [N, 4]
// (x1, y1, x2, y2 in input pixels), scores [N] and mask probabilities
// [N, 1, M, M] relative to each box.
type ONNXDetector struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	inputSize int
	scoreMin  float64
	maskMin   float64
}

// NewONNX loads the model at cfg.ModelPath.
func NewONNX(cfg config.DetectorConfig) (*ONNXDetector, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx detector: model path is required")
	}
	if len(cfg.OutputNames) != 3 {
		return nil, fmt.Errorf("onnx detector: need 3 output names, got %d", len(cfg.OutputNames))
	}
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("onnx detector: failed to initialize runtime: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, []string{cfg.InputName}, cfg.OutputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx detector: failed to load model: %w", err)
	}

	return &ONNXDetector{
		session:   session,
		inputSize: cfg.InputSize,
		scoreMin:  cfg.ScoreThreshold,
		maskMin:   cfg.MaskThreshold,
	}, nil
}

func (d *ONNXDetector) Name() string { return config.BackendONNX }

// Detect runs the model on img. Calls are serialised on the session.
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := d.inputSize
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(s), int64(s)), toTensor(img, s))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil, nil, nil}
	d.mu.Lock()
	err = d.session.Run([]ort.Value{input}, outputs)
	d.mu.Unlock()
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	raw, err := rawFromValues(outputs)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	return raw.detections(b.Dx(), b.Dy(), s, d.scoreMin, d.maskMin)
}

// Close releases the session.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	return err
}

// toTensor resizes img to s x s and lays it out as planar BGR float32.
func toTensor(img image.Image, s int) []float32 {
	resized := imaging.Resize(img, s, s, imaging.Linear)
	plane := s * s
	data := make([]float32, 3*plane)
	for y := 0; y < s; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < s; x++ {
			px := row[x*4:]
			i := y*s + x
			data[i] = float32(px[2])
			data[plane+i] = float32(px[1])
			data[2*plane+i] = float32(px[0])
		}
	}
	return data
}

// rawOutputs holds model outputs before they are mapped onto the tile.
type rawOutputs struct {
	Boxes    []float32 // N*4
	Scores   []float32 // N
	Masks    []float32 // N*M*M
	MaskSize int       // M
}

func rawFromValues(outputs []ort.Value) (rawOutputs, error) {
	var tensors [3]*ort.Tensor[float32]
	for i, o := range outputs {
		t, ok := o.(*ort.Tensor[float32])
		if !ok {
			return rawOutputs{}, fmt.Errorf("output %d: expected float32 tensor, got %T", i, o)
		}
		tensors[i] = t
	}

	shape := tensors[2].GetShape()
	if len(shape) != 4 || shape[2] != shape[3] {
		return rawOutputs{}, fmt.Errorf("unexpected mask shape %v", shape)
	}
	return rawOutputs{
		Boxes:    tensors[0].GetData(),
		Scores:   tensors[1].GetData(),
		Masks:    tensors[2].GetData(),
		MaskSize: int(shape[3]),
	}, nil
}

// detections scales boxes from the s x s model input to a w x h tile, pastes
// each mask into a full-tile raster and drops instances below scoreMin.
func (r rawOutputs) detections(w, h, s int, scoreMin, maskMin float64) ([]Detection, error) {
	n := len(r.Scores)
	m := r.MaskSize
	if len(r.Boxes) != 4*n || len(r.Masks) != n*m*m {
		return nil, fmt.Errorf("inconsistent outputs: %d scores, %d box values, %d mask values (mask size %d)",
			n, len(r.Boxes), len(r.Masks), m)
	}

	sx, sy := float64(w)/float64(s), float64(h)/float64(s)
	dets := make([]Detection, 0, n)
	for i := 0; i < n; i++ {
		score := float64(r.Scores[i])
		if score < scoreMin {
			continue
		}
		box := geometry.Box{
			X1: float64(r.Boxes[4*i]) * sx,
			Y1: float64(r.Boxes[4*i+1]) * sy,
			X2: float64(r.Boxes[4*i+2]) * sx,
			Y2: float64(r.Boxes[4*i+3]) * sy,
		}
		dets = append(dets, Detection{
			Box:   box,
			Mask:  pasteMask(r.Masks[i*m*m:(i+1)*m*m], m, box, w, h, maskMin),
			Score: score,
		})
	}
	return dets, nil
}

// pasteMask resamples an m x m probability map onto box inside a w x h
// raster with bilinear interpolation and thresholds it.
func pasteMask(prob []float32, m int, box geometry.Box, w, h int, threshold float64) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, w, h))
	bw, bh := box.Width(), box.Height()
	if m == 0 || bw <= 0 || bh <= 0 {
		return out
	}

	x0 := max(int(math.Floor(box.X1)), 0)
	y0 := max(int(math.Floor(box.Y1)), 0)
	x1 := min(int(math.Ceil(box.X2)), w)
	y1 := min(int(math.Ceil(box.Y2)), h)

	at := func(u, v int) float64 {
		u = min(max(u, 0), m-1)
		v = min(max(v, 0), m-1)
		return float64(prob[v*m+u])
	}

	for y := y0; y < y1; y++ {
		v := (float64(y)+0.5-box.Y1)/bh*float64(m) - 0.5
		if v < -0.5 || v > float64(m)-0.5 {
			continue
		}
		vf := math.Floor(v)
		fy := v - vf
		for x := x0; x < x1; x++ {
			u := (float64(x)+0.5-box.X1)/bw*float64(m) - 0.5
			if u < -0.5 || u > float64(m)-0.5 {
				continue
			}
			uf := math.Floor(u)
			fx := u - uf
			iu, iv := int(uf), int(vf)

			p := at(iu, iv)*(1-fx)*(1-fy) +
				at(iu+1, iv)*fx*(1-fy) +
				at(iu, iv+1)*(1-fx)*fy +
				at(iu+1, iv+1)*fx*fy
			if p >= threshold {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}
