package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"unicode"

	"github.com/MrCodeEU/facewatch/pkg/config"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	boxThickness = 2
	// Labels sit 6 px above the box, never above y=12.
	labelLift = 6
	labelMinY = 12
)

// Detection is one face in one frame.
type Detection struct {
	Box       image.Rectangle
	Embedding []float32
	Label     string
	Score     float64
	// Recognized is set when an embedding matched at or above the threshold.
	Recognized bool
}

// Style controls how detections are drawn.
type Style struct {
	Recognized     color.RGBA
	Unrecognized   color.RGBA
	DrawConfidence bool
}

// StyleFromConfig converts the BGR colors of cfg into a Style.
func StyleFromConfig(cfg config.OutputConfig) Style {
	return Style{
		Recognized:     bgr(cfg.RecognizedColor),
		Unrecognized:   bgr(cfg.UnrecognizedColor),
		DrawConfidence: cfg.DrawConfidence,
	}
}

func bgr(c config.Color) color.RGBA {
	return color.RGBA{R: c[2], G: c[1], B: c[0], A: 255}
}

// Color returns the box color for d.
func (s Style) Color(d Detection) color.RGBA {
	if d.Recognized {
		return s.Recognized
	}
	return s.Unrecognized
}

// Text returns the label drawn next to d.
func (s Style) Text(d Detection) string {
	if s.DrawConfidence {
		return fmt.Sprintf("%s %.2f", d.Label, d.Score)
	}
	return d.Label
}

// Annotate draws the box and label of d onto dst.
func (s Style) Annotate(dst draw.Image, d Detection) {
	c := s.Color(d)
	drawBox(dst, d.Box, c, boxThickness)

	y := d.Box.Min.Y - labelLift
	if y < labelMinY {
		y = labelMinY
	}
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(d.Box.Min.X, y),
	}
	drawer.DrawString(displayLabel(s.Text(d)))
}

// drawBox outlines r with lines of the given thickness drawn inside r.
func drawBox(dst draw.Image, r image.Rectangle, c color.Color, thickness int) {
	if r.Empty() {
		return
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// displayLabel folds a label onto the ASCII glyphs of the label font,
// e.g. "Jiří" becomes "Jiri". Characters without an ASCII form become '?'.
func displayLabel(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return '?'
		}
		return r
	}, folded)
}

// toRGBA copies frame into a new RGBA image with the same bounds.
func toRGBA(frame image.Image) *image.RGBA {
	dst := image.NewRGBA(frame.Bounds())
	draw.Draw(dst, dst.Bounds(), frame, frame.Bounds().Min, draw.Src)
	return dst
}
