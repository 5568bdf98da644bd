package gallery

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrCodeEU/facewatch/pkg/logging"
	"github.com/MrCodeEU/facewatch/pkg/recognition"
	"github.com/schollz/progressbar/v3"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Options controls a gallery scan.
type Options struct {
	// ScoreThreshold is applied to the detector before scanning.
	ScoreThreshold float64
	Margin         int
	// Progress receives a progress bar; nil disables it.
	Progress io.Writer
}

// DefaultOptions returns the options used by the train command.
func DefaultOptions() Options {
	return Options{
		ScoreThreshold: 0.6,
		Margin:         recognition.DefaultMargin,
	}
}

// Builder turns a dataset directory into a gallery document.
// It holds the engines, created once per run, and no scan state.
type Builder struct {
	detector recognition.Detector
	embedder recognition.Embedder
	decode   func(path string) (image.Image, error)
}

// NewBuilder creates a builder around already-loaded engines.
func NewBuilder(detector recognition.Detector, embedder recognition.Embedder) *Builder {
	return &Builder{
		detector: detector,
		embedder: embedder,
		decode:   decodeFile,
	}
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	return img, err
}

type sample struct {
	person string
	file   string
	path   string
}

// scanDataset lists identity folders and their files in name order.
func scanDataset(datasetPath string) ([]sample, error) {
	people, err := os.ReadDir(datasetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", datasetPath, err)
	}

	var samples []sample
	for _, person := range people {
		if !person.IsDir() || strings.HasPrefix(person.Name(), ".") {
			continue
		}

		dir := filepath.Join(datasetPath, person.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			logging.Warnf("Skipping unreadable identity folder %s: %v", dir, err)
			continue
		}

		for _, f := range files {
			if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
				continue
			}
			samples = append(samples, sample{
				person: person.Name(),
				file:   f.Name(),
				path:   filepath.Join(dir, f.Name()),
			})
		}
	}
	return samples, nil
}

// Build scans datasetPath and returns the resulting document. Per-image
// failures are counted in FailedImages and never abort the scan; only an
// unreadable dataset root or context cancellation returns an error.
func (b *Builder) Build(ctx context.Context, datasetPath string, opts Options) (*Document, error) {
	samples, err := scanDataset(datasetPath)
	if err != nil {
		return nil, err
	}

	b.detector.SetScoreThreshold(opts.ScoreThreshold)

	log := logging.Component("gallery")
	log.WithFields(logging.Fields{
		"dataset": datasetPath,
		"images":  len(samples),
	}).Info("Starting gallery construction")

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(len(samples),
			progressbar.OptionSetDescription("Building gallery"),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowElapsedTimeOnFinish(),
		)
	}

	doc := &Document{Entries: []Entry{}}
	perPerson := make(map[string]int)

	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, err := b.process(s, opts.Margin)
		if err != nil {
			doc.FailedImages++
			log.WithField("path", s.path).Debugf("Skipped image: %v", err)
		} else {
			doc.Entries = append(doc.Entries, entry)
			perPerson[s.person]++
		}

		if bar != nil {
			_ = bar.Add(1)
		}
	}

	if bar != nil {
		_ = bar.Finish()
	}

	for _, person := range doc.People() {
		log.WithField("person", person).Debugf("%d sample(s)", perPerson[person])
	}
	log.WithFields(logging.Fields{
		"entries": len(doc.Entries),
		"people":  len(perPerson),
		"failed":  doc.FailedImages,
	}).Info("Gallery construction finished")

	return doc, nil
}

// process turns one image into an entry.
func (b *Builder) process(s sample, margin int) (Entry, error) {
	img, err := b.decode(s.path)
	if err != nil {
		return Entry{}, fmt.Errorf("decode: %w", err)
	}

	det := b.detector.Detect(img)
	if det.Failed() {
		return Entry{}, fmt.Errorf("detect: %w", det.Err)
	}
	face, ok := det.First()
	if !ok {
		return Entry{}, recognition.ErrNoFaceDetected
	}

	crop, rect, err := recognition.CropFace(img, face, margin)
	if err != nil {
		return Entry{}, err
	}

	emb := b.embedder.Embed(crop)
	if emb.Failed() {
		if emb.Err != nil {
			return Entry{}, fmt.Errorf("embed: %w", emb.Err)
		}
		return Entry{}, fmt.Errorf("embed: empty vector")
	}

	return Entry{
		Person:    s.person,
		File:      s.file,
		Path:      s.path,
		BBox:      recognition.BoxFromRect(rect).Slice(),
		Embedding: recognition.L2Normalize(emb.Vector),
	}, nil
}
