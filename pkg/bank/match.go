package bank

import "github.com/MrCodeEU/facewatch/pkg/recognition"

// Unknown is the label reported when no identity reaches the threshold.
const Unknown = "Unknown"

// Result is the best row for a query.
type Result struct {
	Index int
	Name  string
	Score float64
	Meta  Meta
}

// Comparable reports whether query can be scored against the bank: the bank
// has rows and query has the bank's width.
func (b *Bank) Comparable(query []float32) bool {
	return b.Len() > 0 && len(query) == b.Dim
}

// Best scans every row and returns the one with the highest inner product.
// Ties resolve to the lowest index. ok is false for an empty bank and for a
// query whose length differs from the bank width.
func (b *Bank) Best(query []float32) (Result, bool) {
	if !b.Comparable(query) {
		return Result{Index: -1, Name: Unknown}, false
	}

	best := 0
	bestScore := recognition.Dot(query, b.Row(0))
	for i := 1; i < b.Len(); i++ {
		if s := recognition.Dot(query, b.Row(i)); s > bestScore {
			best, bestScore = i, s
		}
	}

	return Result{
		Index: best,
		Name:  b.Names[best],
		Score: bestScore,
		Meta:  b.Meta[best],
	}, true
}

// Match returns the best identity and its cosine similarity. Scores below
// threshold are still reported, labelled Unknown. An empty bank or a query of
// the wrong width yields (Unknown, 0).
func (b *Bank) Match(query []float32, threshold float64) (string, float64) {
	r, ok := b.Best(query)
	if !ok {
		return Unknown, 0
	}
	if r.Score >= threshold {
		return r.Name, r.Score
	}
	return Unknown, r.Score
}
