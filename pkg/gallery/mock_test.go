package gallery

import (
	"image"

	"github.com/MrCodeEU/facewatch/pkg/recognition"
)

type MockDetector struct {
	DetectFunc func(img image.Image) recognition.DetectResult
	Threshold  float64
}

func (m *MockDetector) Detect(img image.Image) recognition.DetectResult {
	if m.DetectFunc != nil {
		return m.DetectFunc(img)
	}
	return recognition.Detected(nil)
}

func (m *MockDetector) SetScoreThreshold(threshold float64) {
	m.Threshold = threshold
}

func (m *MockDetector) Close() error { return nil }

type MockEmbedder struct {
	EmbedFunc func(crop image.Image) recognition.EmbedResult
	Crops     []image.Rectangle
}

func (m *MockEmbedder) Embed(crop image.Image) recognition.EmbedResult {
	m.Crops = append(m.Crops, crop.Bounds())
	if m.EmbedFunc != nil {
		return m.EmbedFunc(crop)
	}
	return recognition.Embedded([]float32{3, 4})
}

func (m *MockEmbedder) Dim() int { return 2 }

func (m *MockEmbedder) Close() error { return nil }

// centerFace reports one face in the middle of every image.
func centerFace(img image.Image) recognition.DetectResult {
	b := img.Bounds()
	return recognition.Detected([]recognition.Face{{
		Box:   recognition.Box{X: b.Dx() / 4, Y: b.Dy() / 4, Width: b.Dx() / 2, Height: b.Dy() / 2},
		Score: 0.9,
	}})
}
