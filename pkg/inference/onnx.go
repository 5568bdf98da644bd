package inference

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/MrCodeEU/facewatch/pkg/logging"
	"github.com/MrCodeEU/facewatch/pkg/recognition"
	ort "github.com/yalue/onnxruntime_go"
)

// ErrRuntimeUnavailable is returned when the ONNX Runtime library cannot be initialized.
var ErrRuntimeUnavailable = errors.New("onnx runtime unavailable")

var ortEnv struct {
	mu   sync.Mutex
	refs int
}

// acquireRuntime initializes the shared ONNX Runtime environment on first use.
func acquireRuntime(library string) error {
	ortEnv.mu.Lock()
	defer ortEnv.mu.Unlock()

	if ortEnv.refs == 0 && !ort.IsInitialized() {
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		}
		logging.Debugf("ONNX Runtime %s initialized", ort.GetVersion())
	}
	ortEnv.refs++
	return nil
}

// releaseRuntime tears the environment down once the last session is gone.
func releaseRuntime() error {
	ortEnv.mu.Lock()
	defer ortEnv.mu.Unlock()

	if ortEnv.refs == 0 {
		return nil
	}
	ortEnv.refs--
	if ortEnv.refs == 0 && ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

// ONNXConfig holds embedding model settings.
type ONNXConfig struct {
	ModelPath string
	// RuntimeLibrary is the onnxruntime shared library; empty uses the loader default.
	RuntimeLibrary string
	Threads        int
	// CropSize and Dim are used when the model leaves its shapes dynamic.
	CropSize int
	Dim      int
}

// ONNXEmbedder maps face crops to embeddings with an ONNX recognition model.
type ONNXEmbedder struct {
	mu       sync.Mutex
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
	cropSize int
	dim      int
}

// NewONNXEmbedder loads the model at cfg.ModelPath.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if err := recognition.RequireModel("recognizer", cfg.ModelPath); err != nil {
		return nil, err
	}
	if err := acquireRuntime(cfg.RuntimeLibrary); err != nil {
		return nil, err
	}

	e, err := newONNXEmbedder(cfg)
	if err != nil {
		_ = releaseRuntime()
		return nil, err
	}

	logging.WithFields(logging.Fields{
		"model":     cfg.ModelPath,
		"crop_size": e.cropSize,
		"dim":       e.dim,
	}).Info("Loaded ONNX recognizer")
	return e, nil
}

func newONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect recognizer %s: %w", cfg.ModelPath, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("recognizer %s has no inputs or outputs", cfg.ModelPath)
	}

	inShape, cropSize := inputShape(inputs[0].Dimensions, cfg.CropSize)
	outShape, dim := outputShape(outputs[0].Dimensions, cfg.Dim)

	e := &ONNXEmbedder{cropSize: cropSize, dim: dim}

	e.input, err = ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	e.output, err = ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		e.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		e.destroy()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()
	if cfg.Threads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.Threads); err != nil {
			e.destroy()
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	e.session, err = ort.NewAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		[]ort.Value{e.input},
		[]ort.Value{e.output},
		opts,
	)
	if err != nil {
		e.destroy()
		return nil, fmt.Errorf("failed to create recognizer session: %w", err)
	}
	return e, nil
}

// inputShape resolves a model input to 1×3×S×S, keeping static spatial
// dimensions from the model and using fallback for dynamic ones.
func inputShape(dims ort.Shape, fallback int) (ort.Shape, int) {
	size := fallback
	if len(dims) == 4 && dims[2] > 0 {
		size = int(dims[2])
	}
	return ort.NewShape(1, 3, int64(size), int64(size)), size
}

// outputShape resolves dynamic dimensions to 1 and returns the vector length.
func outputShape(dims ort.Shape, fallback int) (ort.Shape, int) {
	if len(dims) < 2 {
		return ort.NewShape(1, int64(fallback)), fallback
	}
	shape := make(ort.Shape, len(dims))
	dim := 1
	for i, d := range dims {
		if d <= 0 {
			d = 1
			if i == len(dims)-1 {
				d = int64(fallback)
			}
		}
		shape[i] = d
		if i > 0 {
			dim *= int(d)
		}
	}
	return shape, dim
}

// Embed runs the recognizer on crop and returns the raw output vector.
func (e *ONNXEmbedder) Embed(crop image.Image) recognition.EmbedResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return recognition.EmbeddingFailed(recognition.ErrModelNotLoaded)
	}
	if crop.Bounds().Empty() {
		return recognition.EmbeddingFailed(recognition.ErrEmptyCrop)
	}

	copy(e.input.GetData(), Blob(crop, e.cropSize))
	if err := e.session.Run(); err != nil {
		return recognition.EmbeddingFailed(fmt.Errorf("recognizer inference failed: %w", err))
	}

	vec := make([]float32, e.dim)
	copy(vec, e.output.GetData())
	return recognition.Embedded(vec)
}

// Dim returns the embedding length.
func (e *ONNXEmbedder) Dim() int {
	return e.dim
}

// CropSize returns the side length crops are resized to.
func (e *ONNXEmbedder) CropSize() int {
	return e.cropSize
}

// Close releases the session and the runtime reference.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil
	}
	e.destroy()
	return releaseRuntime()
}

func (e *ONNXEmbedder) destroy() {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.input != nil {
		e.input.Destroy()
		e.input = nil
	}
	if e.output != nil {
		e.output.Destroy()
		e.output = nil
	}
}
