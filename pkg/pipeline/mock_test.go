package pipeline

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/MrCodeEU/facewatch/pkg/media"
	"github.com/MrCodeEU/facewatch/pkg/recognition"
)

type MockDetector struct {
	DetectFunc func(img image.Image) recognition.DetectResult
	Sizes      []image.Point
}

func (m *MockDetector) Detect(img image.Image) recognition.DetectResult {
	m.Sizes = append(m.Sizes, img.Bounds().Size())
	if m.DetectFunc != nil {
		return m.DetectFunc(img)
	}
	return recognition.Detected(nil)
}

func (m *MockDetector) SetScoreThreshold(float64) {}

func (m *MockDetector) Close() error { return nil }

type MockEmbedder struct {
	EmbedFunc func(crop image.Image) recognition.EmbedResult
}

func (m *MockEmbedder) Embed(crop image.Image) recognition.EmbedResult {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(crop)
	}
	return recognition.Embedded([]float32{1, 0})
}

func (m *MockEmbedder) Dim() int { return 2 }

func (m *MockEmbedder) Close() error { return nil }

// MockSource yields Frames in order, then ReadErr (media.ErrEndOfStream by default).
type MockSource struct {
	Frames  []image.Image
	ReadErr error
	FPS     float64
	Count   int
	Reads   int
	Closed  int
}

func (m *MockSource) Read() (image.Image, error) {
	m.Reads++
	if len(m.Frames) == 0 {
		if m.ReadErr != nil {
			return nil, m.ReadErr
		}
		return nil, media.ErrEndOfStream
	}
	f := m.Frames[0]
	m.Frames = m.Frames[1:]
	return f, nil
}

func (m *MockSource) FrameRate() float64 { return m.FPS }

func (m *MockSource) FrameCount() int { return m.Count }

func (m *MockSource) Close() error {
	m.Closed++
	return nil
}

type MockOpener struct {
	OpenFunc func(source string) (media.Source, error)
	Opened   []*MockSource
	Calls    int
}

func (m *MockOpener) Open(source string) (media.Source, error) {
	m.Calls++
	src, err := m.OpenFunc(source)
	if err != nil {
		return nil, err
	}
	if ms, ok := src.(*MockSource); ok {
		m.Opened = append(m.Opened, ms)
	}
	return src, nil
}

type MockWriter struct {
	WriteFunc func(frame image.Image) error
	Frames    []*image.RGBA
	Closed    int
}

func (m *MockWriter) Write(frame image.Image) error {
	if m.WriteFunc != nil {
		if err := m.WriteFunc(frame); err != nil {
			return err
		}
	}
	m.Frames = append(m.Frames, toRGBA(frame))
	return nil
}

func (m *MockWriter) Close() error {
	m.Closed++
	return nil
}

type MockDisplay struct {
	ShowFunc func(frame image.Image) bool
	Shown    int
	Closed   int
}

func (m *MockDisplay) Show(frame image.Image) bool {
	m.Shown++
	if m.ShowFunc != nil {
		return m.ShowFunc(frame)
	}
	return false
}

func (m *MockDisplay) Close() error {
	m.Closed++
	return nil
}

// grayFrame returns a w×h frame filled with mid gray.
func grayFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 128, G: 128, B: 128, A: 255}}, image.Point{}, draw.Src)
	return img
}

func grayFrames(n, w, h int) []image.Image {
	frames := make([]image.Image, n)
	for i := range frames {
		frames[i] = grayFrame(w, h)
	}
	return frames
}

// faceAt reports one face with the given box in every frame.
func faceAt(box recognition.Box) func(image.Image) recognition.DetectResult {
	return func(image.Image) recognition.DetectResult {
		return recognition.Detected([]recognition.Face{{Box: box, Score: 0.95}})
	}
}
