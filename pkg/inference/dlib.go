package inference

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/facewatch/pkg/logging"
	"github.com/MrCodeEU/facewatch/pkg/recognition"
)

// DlibDim is the length of a dlib face descriptor.
const DlibDim = len(face.Descriptor{})

// dlib model files expected inside the model directory.
var dlibModels = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
}

// FaceEngine is the subset of go-face used by DlibEngine.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	Close()
}

func newGoFace(path string) (FaceEngine, error) {
	return face.NewRecognizer(path)
}

// DlibEngine runs detection and embedding through dlib via go-face.
// go-face computes descriptors during detection, so Embed reuses the
// descriptor of the last detection that falls inside the crop and only
// re-runs the network when none does.
type DlibEngine struct {
	rec     FaceEngine
	factory func(path string) (FaceEngine, error)
	loaded  bool
	mu      sync.Mutex

	last []face.Face
}

// NewDlibEngine creates an engine that is not yet loaded.
func NewDlibEngine() *DlibEngine {
	return &DlibEngine{factory: newGoFace}
}

// LoadModels loads the dlib models from modelDir.
func (e *DlibEngine) LoadModels(modelDir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return nil
	}

	for _, name := range dlibModels {
		if err := recognition.RequireModel("dlib", filepath.Join(modelDir, name)); err != nil {
			return err
		}
	}

	logging.Infof("Loading dlib models from: %s", modelDir)

	rec, err := e.factory(modelDir)
	if err != nil {
		return fmt.Errorf("failed to load dlib models: %w", err)
	}

	e.rec = rec
	e.loaded = true
	return nil
}

// SetScoreThreshold is a no-op; dlib's detector has no score cut-off.
func (e *DlibEngine) SetScoreThreshold(float64) {}

// Dim returns the descriptor length.
func (e *DlibEngine) Dim() int {
	return DlibDim
}

// Detect finds faces in img, in dlib's native order.
func (e *DlibEngine) Detect(img image.Image) recognition.DetectResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	faces, err := e.recognize(img)
	if err != nil {
		e.last = nil
		return recognition.DetectionFailed(err)
	}
	e.last = faces

	result := make([]recognition.Face, len(faces))
	for i, f := range faces {
		result[i] = recognition.Face{
			Box:       recognition.BoxFromRect(f.Rectangle),
			Score:     1,
			Landmarks: f.Shapes,
		}
	}
	return recognition.Detected(result)
}

// Embed returns the descriptor for the face contained in crop.
func (e *DlibEngine) Embed(crop image.Image) recognition.EmbedResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	bounds := crop.Bounds()
	for _, f := range e.last {
		if f.Rectangle.In(bounds) {
			return recognition.Embedded(descriptorVector(f.Descriptor))
		}
	}

	faces, err := e.recognize(crop)
	if err != nil {
		return recognition.EmbeddingFailed(err)
	}
	if len(faces) == 0 {
		return recognition.EmbeddingFailed(recognition.ErrNoFaceDetected)
	}
	return recognition.Embedded(descriptorVector(faces[0].Descriptor))
}

// recognize encodes img as JPEG and runs go-face on it. Returned rectangles
// are shifted back into img's coordinate space.
func (e *DlibEngine) recognize(img image.Image) ([]face.Face, error) {
	if !e.loaded {
		return nil, recognition.ErrModelNotLoaded
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	faces, err := e.rec.Recognize(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	offset := img.Bounds().Min
	for i := range faces {
		faces[i].Rectangle = faces[i].Rectangle.Add(offset)
		for j := range faces[i].Shapes {
			faces[i].Shapes[j] = faces[i].Shapes[j].Add(offset)
		}
	}
	return faces, nil
}

func descriptorVector(d face.Descriptor) []float32 {
	v := make([]float32, len(d))
	copy(v, d[:])
	return v
}

// Close releases the recognizer resources.
func (e *DlibEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec != nil {
		e.rec.Close()
		e.rec = nil
	}
	e.loaded = false
	e.last = nil
	return nil
}
