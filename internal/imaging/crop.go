package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/glomeruli-tools/internal/geometry"
)

// CropResult contains the cropped image data
type CropResult struct {
	Region      [4]int `json:"region"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// CropImage returns the part of img covered by box grown by padding pixels on
// each side and clipped to the image, optionally rescaled. Box edges are
// rounded outward to whole pixels. The second return value is the clipped
// region in img coordinates.
func CropImage(img image.Image, box geometry.Box, padding int, scale float64) (*image.NRGBA, image.Rectangle, error) {
	if !box.Valid() {
		return nil, image.Rectangle{}, fmt.Errorf("invalid crop box %+v", box)
	}

	r := image.Rect(
		int(math.Floor(box.X1))-padding,
		int(math.Floor(box.Y1))-padding,
		int(math.Ceil(box.X2))+padding,
		int(math.Ceil(box.Y2))+padding,
	).Intersect(img.Bounds())
	if r.Empty() {
		return nil, image.Rectangle{}, fmt.Errorf("crop box %+v outside image bounds %v", box, img.Bounds())
	}

	cropped := imaging.Crop(img, r)
	if scale != 1.0 && scale > 0 {
		w := max(int(float64(cropped.Bounds().Dx())*scale), 1)
		h := max(int(float64(cropped.Bounds().Dy())*scale), 1)
		cropped = imaging.Resize(cropped, w, h, imaging.Lanczos)
	}
	return cropped, r, nil
}

// Crop is CropImage with the result encoded as a base64 PNG.
func Crop(img image.Image, box geometry.Box, padding int, scale float64) (*CropResult, error) {
	cropped, r, err := CropImage(img, box, padding, scale)
	if err != nil {
		return nil, err
	}

	encoded, err := EncodePNG(cropped)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cropped image: %w", err)
	}

	return &CropResult{
		Region:      [4]int{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y},
		Width:       cropped.Bounds().Dx(),
		Height:      cropped.Bounds().Dy(),
		ImageBase64: encoded,
		MimeType:    "image/png",
	}, nil
}

// EncodePNG encodes img as PNG and returns it base64-encoded.
func EncodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
