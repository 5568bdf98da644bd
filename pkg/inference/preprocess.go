package inference

import (
	"image"

	"golang.org/x/image/draw"
)

// Normalization applied to every channel before embedding.
const (
	pixelMean  = 127.5
	pixelScale = 128.0
)

// Blob resizes crop to size×size with bilinear interpolation and returns a
// 1×3×size×size tensor in RGB channel order, scaled as (v-127.5)/128.
func Blob(crop image.Image, size int) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), crop, crop.Bounds(), draw.Src, nil)

	plane := size * size
	blob := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := dst.PixOffset(x, y)
			p := y*size + x
			blob[p] = (float32(dst.Pix[i]) - pixelMean) / pixelScale
			blob[plane+p] = (float32(dst.Pix[i+1]) - pixelMean) / pixelScale
			blob[2*plane+p] = (float32(dst.Pix[i+2]) - pixelMean) / pixelScale
		}
	}
	return blob
}
