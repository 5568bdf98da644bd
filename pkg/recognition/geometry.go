package recognition

import (
	"image"
	"image/draw"
)

// DefaultMargin is the padding in pixels added to each side of a face box.
const DefaultMargin = 10

// Box is a face bounding box as x, y, width, height.
type Box struct {
	X, Y          int
	Width, Height int
}

// BoxFromRect converts an image.Rectangle into a Box.
func BoxFromRect(r image.Rectangle) Box {
	return Box{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Slice returns the box as [x, y, w, h].
func (b Box) Slice() [4]int {
	return [4]int{b.X, b.Y, b.Width, b.Height}
}

// Expand grows the box by margin on every side and clamps it to bounds.
// The result may be empty when the box lies outside bounds.
func (b Box) Expand(margin int, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(b.X-margin, b.Y-margin, b.X+b.Width+margin, b.Y+b.Height+margin)
	return r.Intersect(bounds)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop returns the region r of img. The crop keeps its coordinates from img.
// Images without SubImage are copied into a new RGBA.
func Crop(img image.Image, r image.Rectangle) (image.Image, error) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil, ErrEmptyCrop
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(r), nil
	}
	dst := image.NewRGBA(r)
	draw.Draw(dst, r, img, r.Min, draw.Src)
	return dst, nil
}

// CropFace expands the face box by margin and crops it from img.
func CropFace(img image.Image, f Face, margin int) (image.Image, image.Rectangle, error) {
	r := f.Box.Expand(margin, img.Bounds())
	crop, err := Crop(img, r)
	return crop, r, err
}
