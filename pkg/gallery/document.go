// Package gallery builds and persists the labeled reference gallery: one
// embedding per usable dataset image, grouped by identity folder.
package gallery

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrCodeEU/facewatch/pkg/storage"
)

// ErrDocumentNotFound is returned when no gallery document exists at the given path.
var ErrDocumentNotFound = errors.New("gallery document not found")

// Entry is one labeled sample. BBox is the margin-expanded face box as [x, y, w, h].
type Entry struct {
	Person    string    `json:"person"`
	File      string    `json:"file"`
	Path      string    `json:"path"`
	BBox      [4]int    `json:"bbox"`
	Embedding []float32 `json:"embedding"`
}

// Document is the persisted gallery.
type Document struct {
	Entries      []Entry `json:"entries"`
	FailedImages int     `json:"failedImages"`
}

// People returns the distinct identities in entry order.
func (d *Document) People() []string {
	seen := make(map[string]bool)
	var people []string
	for _, e := range d.Entries {
		if !seen[e.Person] {
			seen[e.Person] = true
			people = append(people, e.Person)
		}
	}
	return people
}

// SaveDocument writes doc to path as indented JSON.
func SaveDocument(path string, doc *Document) error {
	if doc.Entries == nil {
		doc.Entries = []Entry{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal gallery: %w", err)
	}

	// The gallery stays human-readable; only the bank cache is ever sealed.
	fs, err := storage.NewFileStore(false)
	if err != nil {
		return err
	}
	return fs.Write(path, data)
}

// LoadDocument reads the gallery document at path.
func LoadDocument(path string) (*Document, error) {
	fs, err := storage.NewFileStore(false)
	if err != nil {
		return nil, err
	}

	data, err := fs.Read(path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", path, ErrDocumentNotFound)
		}
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse gallery %s: %w", path, err)
	}
	return &doc, nil
}
