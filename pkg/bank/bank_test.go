package bank

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MrCodeEU/facewatch/pkg/gallery"
	"github.com/MrCodeEU/facewatch/pkg/recognition"
	"github.com/MrCodeEU/facewatch/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDocument() *gallery.Document {
	return &gallery.Document{
		Entries: []gallery.Entry{
			{Person: "alice", File: "a1.jpg", Path: "ds/alice/a1.jpg", BBox: [4]int{1, 2, 30, 40}, Embedding: []float32{3, 4, 0}},
			{Person: "ghost", File: "g.jpg", Path: "ds/ghost/g.jpg"},
			{Person: "bob", File: "b1.jpg", Path: "ds/bob/b1.jpg", BBox: [4]int{5, 6, 70, 80}, Embedding: []float32{0, 0, 2}},
			{Person: "zero", File: "z.jpg", Path: "ds/zero/z.jpg", Embedding: []float32{0, 0, 0}},
		},
		FailedImages: 2,
	}
}

func plainStore(t *testing.T) *storage.FileStore {
	t.Helper()
	fs, err := storage.NewFileStore(false)
	require.NoError(t, err)
	return fs
}

func TestFromDocument(t *testing.T) {
	b, err := FromDocument(testDocument(), 128)
	require.NoError(t, err)
	require.NoError(t, b.Validate())

	assert.Equal(t, 3, b.Dim)
	assert.Equal(t, []string{"alice", "bob", "zero"}, b.Names)
	assert.Equal(t, Meta{File: "a1.jpg", Path: "ds/alice/a1.jpg", BBox: [4]int{1, 2, 30, 40}}, b.Meta[0])

	assert.InDeltaSlice(t, []float32{0.6, 0.8, 0}, b.Row(0), 1e-6)
	assert.InDeltaSlice(t, []float32{0, 0, 1}, b.Row(1), 1e-6)
	assert.Equal(t, []float32{0, 0, 0}, b.Row(2))
}

func TestFromDocument_Deterministic(t *testing.T) {
	b1, err := FromDocument(testDocument(), 3)
	require.NoError(t, err)
	b2, err := FromDocument(testDocument(), 3)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestFromDocument_Empty(t *testing.T) {
	doc := &gallery.Document{Entries: []gallery.Entry{{Person: "ghost"}}}

	b, err := FromDocument(doc, 512)
	require.NoError(t, err)
	require.NoError(t, b.Validate())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 512, b.Dim)
	assert.Empty(t, b.Embeddings)
	assert.Empty(t, b.Meta)
}

func TestFromDocument_MixedDimensions(t *testing.T) {
	doc := &gallery.Document{Entries: []gallery.Entry{
		{Person: "a", Embedding: []float32{1, 0}},
		{Person: "b", Embedding: []float32{1, 0, 0}},
	}}
	_, err := FromDocument(doc, 2)
	assert.ErrorIs(t, err, ErrInconsistent)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		bank *Bank
		ok   bool
	}{
		{"empty", Empty(4), true},
		{"consistent", &Bank{Dim: 2, Embeddings: []float32{1, 0}, Names: []string{"a"}, Meta: []Meta{{}}}, true},
		{"ragged matrix", &Bank{Dim: 2, Embeddings: []float32{1, 0, 1}, Names: []string{"a"}, Meta: []Meta{{}}}, false},
		{"missing meta", &Bank{Dim: 2, Embeddings: []float32{1, 0}, Names: []string{"a"}}, false},
		{"extra name", &Bank{Dim: 2, Embeddings: []float32{1, 0}, Names: []string{"a", "b"}, Meta: []Meta{{}}}, false},
		{"zero dim", &Bank{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bank.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInconsistent)
			}
		})
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	b, err := FromDocument(testDocument(), 3)
	require.NoError(t, err)

	stores := map[string]*storage.FileStore{
		"plain":  plainStore(t),
		"sealed": storage.NewSealedFileStore([storage.KeySize]byte{9, 9, 9}),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bank_cache.gob")
			require.NoError(t, Save(store, path, b))

			loaded, err := Load(store, path)
			require.NoError(t, err)
			assert.Equal(t, b, loaded)
		})
	}
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank_cache.gob")
	require.NoError(t, os.WriteFile(path, []byte("not gob"), 0600))

	_, err := Load(plainStore(t), path)
	assert.Error(t, err)
}

func TestLoadOrBuild_BuildsAndCaches(t *testing.T) {
	dir := t.TempDir()
	galleryPath := filepath.Join(dir, "database.json")
	cachePath := filepath.Join(dir, "bank_cache.gob")
	require.NoError(t, gallery.SaveDocument(galleryPath, testDocument()))

	store := plainStore(t)
	b, err := LoadOrBuild(store, cachePath, galleryPath, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Len())
	assert.FileExists(t, cachePath)

	// The cache is used verbatim even after the gallery disappears.
	require.NoError(t, os.Remove(galleryPath))
	cached, err := LoadOrBuild(store, cachePath, galleryPath, 3)
	require.NoError(t, err)
	assert.Equal(t, b, cached)
}

func TestLoadOrBuild_CacheNotValidatedAgainstGallery(t *testing.T) {
	dir := t.TempDir()
	galleryPath := filepath.Join(dir, "database.json")
	cachePath := filepath.Join(dir, "bank_cache.gob")
	store := plainStore(t)

	stale := &Bank{Dim: 3, Embeddings: []float32{1, 0, 0}, Names: []string{"old"}, Meta: []Meta{{File: "old.jpg"}}}
	require.NoError(t, Save(store, cachePath, stale))
	require.NoError(t, gallery.SaveDocument(galleryPath, testDocument()))

	b, err := LoadOrBuild(store, cachePath, galleryPath, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, b.Names)
}

func TestLoadOrBuild_EmptyGalleryNotCached(t *testing.T) {
	dir := t.TempDir()
	galleryPath := filepath.Join(dir, "database.json")
	cachePath := filepath.Join(dir, "bank_cache.gob")
	require.NoError(t, gallery.SaveDocument(galleryPath, &gallery.Document{FailedImages: 4}))

	b, err := LoadOrBuild(plainStore(t), cachePath, galleryPath, 512)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 512, b.Dim)
	assert.NoFileExists(t, cachePath)
}

func TestLoadOrBuild_CacheWidthMismatch(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "bank_cache.gob")
	store := plainStore(t)

	cached := &Bank{Dim: 2, Embeddings: []float32{1, 0}, Names: []string{"alice"}, Meta: []Meta{{File: "a.jpg"}}}
	require.NoError(t, Save(store, cachePath, cached))

	b, err := LoadOrBuild(store, cachePath, filepath.Join(dir, "missing.json"), 4)
	assert.ErrorIs(t, err, ErrInconsistent)
	assert.ErrorContains(t, err, "--rebuild-cache")
	assert.Nil(t, b)
}

func TestLoadOrBuild_GalleryWidthMismatch(t *testing.T) {
	dir := t.TempDir()
	galleryPath := filepath.Join(dir, "database.json")
	cachePath := filepath.Join(dir, "bank_cache.gob")
	require.NoError(t, gallery.SaveDocument(galleryPath, testDocument()))

	_, err := LoadOrBuild(plainStore(t), cachePath, galleryPath, 128)
	assert.ErrorIs(t, err, ErrInconsistent)
	assert.NoFileExists(t, cachePath)
}

func TestCheckDim(t *testing.T) {
	tests := []struct {
		name string
		bank *Bank
		dim  int
		ok   bool
	}{
		{"matching", &Bank{Dim: 2, Embeddings: []float32{1, 0}, Names: []string{"a"}, Meta: []Meta{{}}}, 2, true},
		{"wider engine", &Bank{Dim: 2, Embeddings: []float32{1, 0}, Names: []string{"a"}, Meta: []Meta{{}}}, 4, false},
		{"empty bank any width", Empty(128), 512, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bank.CheckDim(tt.dim)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInconsistent)
			}
		})
	}
}

func TestLoadOrBuild_MissingGallery(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadOrBuild(plainStore(t), filepath.Join(dir, "bank_cache.gob"), filepath.Join(dir, "database.json"), 3)
	assert.ErrorIs(t, err, gallery.ErrDocumentNotFound)
}

func TestMatch_ExactRow(t *testing.T) {
	b, err := FromDocument(testDocument(), 3)
	require.NoError(t, err)

	query := recognition.L2Normalize([]float32{3, 4, 0})
	label, score := b.Match(query, 0.99)
	assert.Equal(t, "alice", label)
	assert.InDelta(t, 1.0, score, 1e-6)

	label, score = b.Match(recognition.L2Normalize([]float32{0, 0, 5}), 1.0)
	assert.Equal(t, "bob", label)
	assert.InDelta(t, 1.0, score, 1e-6)
}

func TestMatch_BelowThresholdReportsScore(t *testing.T) {
	b, err := FromDocument(testDocument(), 3)
	require.NoError(t, err)

	query := recognition.L2Normalize([]float32{1, 0, 1})
	label, score := b.Match(query, 0.9)
	assert.Equal(t, Unknown, label)
	assert.InDelta(t, 0.7071, score, 1e-3)
}

func TestMatch_EmptyBank(t *testing.T) {
	for _, threshold := range []float64{-1, 0, 0.5} {
		label, score := Empty(3).Match([]float32{1, 0, 0}, threshold)
		assert.Equal(t, Unknown, label)
		assert.Equal(t, 0.0, score)
	}
}

func TestMatch_TieBreakLowestIndex(t *testing.T) {
	b := &Bank{
		Dim:        2,
		Embeddings: []float32{0, 1, 1, 0, 1, 0},
		Names:      []string{"other", "first", "second"},
		Meta:       []Meta{{}, {}, {}},
	}

	for i := 0; i < 10; i++ {
		label, score := b.Match([]float32{1, 0}, 0.5)
		assert.Equal(t, "first", label)
		assert.Equal(t, 1.0, score)
	}

	r, ok := b.Best([]float32{1, 0})
	require.True(t, ok)
	assert.Equal(t, 1, r.Index)
}

func TestMatch_QueryWidthMismatch(t *testing.T) {
	b := &Bank{Dim: 2, Embeddings: []float32{1, 0}, Names: []string{"alice"}, Meta: []Meta{{}}}

	label, score := b.Match(recognition.L2Normalize([]float32{1, 0, 5, 5}), 0.1)
	assert.Equal(t, Unknown, label)
	assert.Equal(t, 0.0, score)

	_, ok := b.Best([]float32{1})
	assert.False(t, ok)
}

func TestMatch_ZeroRowScoresZero(t *testing.T) {
	b := &Bank{
		Dim:        2,
		Embeddings: []float32{0, 0, -1, 0},
		Names:      []string{"zero", "opposite"},
		Meta:       []Meta{{}, {}},
	}

	// The zero row wins against an opposite vector but can never reach a positive threshold.
	label, score := b.Match([]float32{1, 0}, 0.1)
	assert.Equal(t, Unknown, label)
	assert.Equal(t, 0.0, score)
}
