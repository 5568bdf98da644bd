package inference

import (
	"fmt"
	"image"
	"sync"

	"github.com/MrCodeEU/facewatch/pkg/recognition"
	"gocv.io/x/gocv"
)

// YuNet output layout: x, y, w, h, five landmark pairs, score.
const (
	yunetLandmarks = 5
	yunetScoreCol  = 14
)

// YuNetConfig holds detector settings.
type YuNetConfig struct {
	ModelPath      string
	InputSize      image.Point
	ScoreThreshold float64
	NMSThreshold   float64
	TopK           int
}

// YuNetDetector finds faces with the OpenCV YuNet model.
type YuNetDetector struct {
	mu     sync.Mutex
	fd     gocv.FaceDetectorYN
	size   image.Point
	closed bool
}

// NewYuNetDetector loads the detector model at cfg.ModelPath.
func NewYuNetDetector(cfg YuNetConfig) (*YuNetDetector, error) {
	if err := recognition.RequireModel("detector", cfg.ModelPath); err != nil {
		return nil, err
	}
	if cfg.InputSize.X <= 0 || cfg.InputSize.Y <= 0 {
		return nil, fmt.Errorf("invalid detector input size %v", cfg.InputSize)
	}

	fd := gocv.NewFaceDetectorYNWithParams(cfg.ModelPath, "", cfg.InputSize,
		float32(cfg.ScoreThreshold), float32(cfg.NMSThreshold), cfg.TopK,
		int(gocv.NetBackendDefault), int(gocv.NetTargetCPU))

	return &YuNetDetector{fd: fd, size: cfg.InputSize}, nil
}

// Detect runs the detector on img. The input size follows the image size.
func (d *YuNetDetector) Detect(img image.Image) recognition.DetectResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return recognition.DetectionFailed(recognition.ErrModelNotLoaded)
	}

	bounds := img.Bounds()
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return recognition.DetectionFailed(fmt.Errorf("failed to convert frame: %w", err))
	}
	defer mat.Close()

	if size := bounds.Size(); size != d.size {
		d.fd.SetInputSize(size)
		d.size = size
	}

	faces := gocv.NewMat()
	defer faces.Close()
	d.fd.Detect(mat, &faces)

	return recognition.Detected(parseYuNet(faces, bounds.Min))
}

// parseYuNet converts the N×15 detector output into faces offset by origin.
func parseYuNet(faces gocv.Mat, origin image.Point) []recognition.Face {
	if faces.Empty() || faces.Cols() <= yunetScoreCol {
		return nil
	}

	result := make([]recognition.Face, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		f := recognition.Face{
			Box: recognition.Box{
				X:      origin.X + int(faces.GetFloatAt(r, 0)),
				Y:      origin.Y + int(faces.GetFloatAt(r, 1)),
				Width:  int(faces.GetFloatAt(r, 2)),
				Height: int(faces.GetFloatAt(r, 3)),
			},
			Score:     faces.GetFloatAt(r, yunetScoreCol),
			Landmarks: make([]image.Point, yunetLandmarks),
		}
		for i := 0; i < yunetLandmarks; i++ {
			f.Landmarks[i] = image.Pt(
				origin.X+int(faces.GetFloatAt(r, 4+2*i)),
				origin.Y+int(faces.GetFloatAt(r, 5+2*i)),
			)
		}
		result = append(result, f)
	}
	return result
}

// SetScoreThreshold changes the minimum detection confidence.
func (d *YuNetDetector) SetScoreThreshold(threshold float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.fd.SetScoreThreshold(float32(threshold))
	}
}

// Close releases the detector.
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.fd.Close()
		d.closed = true
	}
	return nil
}
