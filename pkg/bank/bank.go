// Package bank holds the queryable form of the gallery: a matrix of unit
// embeddings with parallel labels and metadata, its on-disk cache, and the
// nearest-identity search over it.
package bank

import (
	"errors"
	"fmt"

	"github.com/MrCodeEU/facewatch/pkg/gallery"
	"github.com/MrCodeEU/facewatch/pkg/recognition"
)

// ErrInconsistent is returned when the parallel sequences of a bank disagree.
var ErrInconsistent = errors.New("inconsistent bank")

// Meta describes the gallery sample behind a bank row.
type Meta struct {
	File string
	Path string
	BBox [4]int
}

// Bank is an N×D matrix of L2-normalized embeddings stored row-major in
// Embeddings, with Names[i] and Meta[i] describing row i.
type Bank struct {
	Dim        int
	Embeddings []float32
	Names      []string
	Meta       []Meta
}

// Empty returns a bank with zero rows of width dim.
func Empty(dim int) *Bank {
	return &Bank{
		Dim:        dim,
		Embeddings: []float32{},
		Names:      []string{},
		Meta:       []Meta{},
	}
}

// Len returns the number of rows.
func (b *Bank) Len() int {
	return len(b.Names)
}

// Row returns row i of the embedding matrix.
func (b *Bank) Row(i int) []float32 {
	return b.Embeddings[i*b.Dim : (i+1)*b.Dim]
}

// Validate checks len(names) == len(meta) == rows(embeddings).
func (b *Bank) Validate() error {
	if b.Dim <= 0 {
		return fmt.Errorf("%w: dimension %d", ErrInconsistent, b.Dim)
	}
	if len(b.Embeddings)%b.Dim != 0 {
		return fmt.Errorf("%w: %d values do not form rows of %d", ErrInconsistent, len(b.Embeddings), b.Dim)
	}
	rows := len(b.Embeddings) / b.Dim
	if len(b.Names) != rows || len(b.Meta) != rows {
		return fmt.Errorf("%w: %d rows, %d names, %d meta", ErrInconsistent, rows, len(b.Names), len(b.Meta))
	}
	return nil
}

// CheckDim reports ErrInconsistent when a non-empty bank was built with a
// different embedding width than dim, as happens after switching backends.
func (b *Bank) CheckDim(dim int) error {
	if b.Len() > 0 && b.Dim != dim {
		return fmt.Errorf("%w: bank embeddings have %d values but the embedder produces %d; "+
			"rerun train or pass --rebuild-cache", ErrInconsistent, b.Dim, dim)
	}
	return nil
}

// FromDocument stacks the usable gallery entries into a bank. Entries without
// an embedding are dropped; every row is L2-normalized and zero rows stay zero.
// When no usable entry exists the bank is 0×dim. The width otherwise comes from
// the first usable entry, and entries of a different length are rejected.
func FromDocument(doc *gallery.Document, dim int) (*Bank, error) {
	b := Empty(dim)

	for i, e := range doc.Entries {
		if len(e.Embedding) == 0 {
			continue
		}
		if b.Len() == 0 {
			b.Dim = len(e.Embedding)
		}
		if len(e.Embedding) != b.Dim {
			return nil, fmt.Errorf("%w: entry %d (%s) has %d values, expected %d",
				ErrInconsistent, i, e.Path, len(e.Embedding), b.Dim)
		}

		b.Embeddings = append(b.Embeddings, recognition.L2Normalize(e.Embedding)...)
		b.Names = append(b.Names, e.Person)
		b.Meta = append(b.Meta, Meta{File: e.File, Path: e.Path, BBox: e.BBox})
	}

	return b, nil
}
