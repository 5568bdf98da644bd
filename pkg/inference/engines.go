// Package inference provides the model-backed implementations of the
// recognition Detector and Embedder: OpenCV YuNet detection with an ONNX
// recognizer, or dlib through go-face for both.
package inference

import (
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/MrCodeEU/facewatch/pkg/config"
	"github.com/MrCodeEU/facewatch/pkg/logging"
	"github.com/MrCodeEU/facewatch/pkg/recognition"
)

// Engines is an opened detector and embedder pair.
type Engines struct {
	Detector recognition.Detector
	Embedder recognition.Embedder
	closers  []io.Closer
}

// Open loads the engines for the configured backend. The detector starts at
// detection.score_threshold; callers lower it for gallery builds.
func Open(cfg *config.Config) (*Engines, error) {
	log := logging.Component("inference").WithField("backend", cfg.Models.Backend)

	switch cfg.Models.Backend {
	case config.BackendDlib:
		engine := NewDlibEngine()
		if err := engine.LoadModels(cfg.Models.DlibDir); err != nil {
			return nil, err
		}
		log.Info("Engines ready")
		return &Engines{Detector: engine, Embedder: engine, closers: []io.Closer{engine}}, nil

	case config.BackendOpenCV:
		det, err := NewYuNetDetector(YuNetConfig{
			ModelPath:      cfg.DetectorPath(),
			InputSize:      image.Pt(cfg.Detection.InputWidth, cfg.Detection.InputHeight),
			ScoreThreshold: cfg.Detection.ScoreThreshold,
			NMSThreshold:   cfg.Detection.NMSThreshold,
			TopK:           cfg.Detection.TopK,
		})
		if err != nil {
			return nil, err
		}
		emb, err := NewONNXEmbedder(ONNXConfig{
			ModelPath:      cfg.RecognizerPath(),
			RuntimeLibrary: cfg.Models.RuntimeLibrary,
			Threads:        cfg.Models.Threads,
			CropSize:       cfg.Recognition.CropSize,
			Dim:            cfg.Recognition.EmbeddingDim,
		})
		if err != nil {
			_ = det.Close()
			return nil, err
		}
		log.WithField("dim", emb.Dim()).Info("Engines ready")
		return &Engines{Detector: det, Embedder: emb, closers: []io.Closer{det, emb}}, nil
	}

	return nil, fmt.Errorf("unknown backend %q", cfg.Models.Backend)
}

// Close releases every engine exactly once.
func (e *Engines) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
