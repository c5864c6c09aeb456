package imaging

import "image"

// BinaryMask converts img to a 0/255 mask with its origin at (0,0). Any
// pixel with a non-zero colour channel is foreground; alpha is ignored.
func BinaryMask(img image.Image) *image.Gray {
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			if r|g|bl != 0 {
				mask.Pix[y*mask.Stride+x] = 255
			}
		}
	}
	return mask
}
