// Package recognition defines the face detection and embedding capabilities
// used by the gallery builder and the recognition loop, along with the
// geometry and vector helpers shared by every backend.
package recognition

import (
	"errors"
	"fmt"
	"image"
	"os"
)

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrModelNotFound is returned when a model artifact is missing on disk.
var ErrModelNotFound = errors.New("model not found")

// ErrModelNotLoaded is returned when an engine is used after Close.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// ErrEmptyCrop is returned when a margin-expanded box has no area inside the image.
var ErrEmptyCrop = errors.New("empty face crop")

// Face is one detection in image coordinates.
type Face struct {
	Box       Box
	Score     float32
	Landmarks []image.Point
}

// DetectResult is either Detected(faces) or DetectionFailed(err).
// An empty Faces slice with a nil Err means the engine found nothing.
type DetectResult struct {
	Faces []Face
	Err   error
}

// Detected wraps a successful detection.
func Detected(faces []Face) DetectResult {
	return DetectResult{Faces: faces}
}

// DetectionFailed wraps an engine failure.
func DetectionFailed(err error) DetectResult {
	return DetectResult{Err: err}
}

// Failed reports whether the engine raised an error.
func (r DetectResult) Failed() bool {
	return r.Err != nil
}

// First returns the first face in the engine's native order.
func (r DetectResult) First() (Face, bool) {
	if r.Failed() || len(r.Faces) == 0 {
		return Face{}, false
	}
	return r.Faces[0], true
}

// EmbedResult is either Embedded(vector) or EmbeddingFailed(err).
type EmbedResult struct {
	Vector []float32
	Err    error
}

// Embedded wraps a successful embedding.
func Embedded(v []float32) EmbedResult {
	return EmbedResult{Vector: v}
}

// EmbeddingFailed wraps an engine failure.
func EmbeddingFailed(err error) EmbedResult {
	return EmbedResult{Err: err}
}

// Failed reports whether no vector was produced.
func (r EmbedResult) Failed() bool {
	return r.Err != nil || len(r.Vector) == 0
}

// Detector localizes faces. Implementations update their input size to the
// dimensions of every image passed to Detect.
type Detector interface {
	Detect(img image.Image) DetectResult
	SetScoreThreshold(threshold float64)
	Close() error
}

// Embedder maps a face crop to a fixed-length vector. The crop keeps the
// bounds it had inside the source image.
type Embedder interface {
	Embed(crop image.Image) EmbedResult
	Dim() int
	Close() error
}

// RequireModel returns a wrapped ErrModelNotFound when path does not exist.
func RequireModel(kind, path string) error {
	if path == "" {
		return fmt.Errorf("%s model path is empty: %w", kind, ErrModelNotFound)
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s model %s: %w", kind, path, ErrModelNotFound)
		}
		return fmt.Errorf("failed to access %s model %s: %w", kind, path, err)
	}
	return nil
}
