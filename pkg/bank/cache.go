package bank

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/MrCodeEU/facewatch/pkg/gallery"
	"github.com/MrCodeEU/facewatch/pkg/logging"
	"github.com/MrCodeEU/facewatch/pkg/storage"
)

const cacheVersion = 1

type cacheFile struct {
	Version int
	Bank    Bank
}

// Save writes b to path through store.
func Save(store *storage.FileStore, path string, b *Bank) error {
	if err := b.Validate(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cacheFile{Version: cacheVersion, Bank: *b}); err != nil {
		return fmt.Errorf("failed to encode bank: %w", err)
	}
	return store.Write(path, buf.Bytes())
}

// Load reads a bank previously written by Save.
func Load(store *storage.FileStore, path string) (*Bank, error) {
	data, err := store.Read(path)
	if err != nil {
		return nil, err
	}

	var cf cacheFile
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&cf); err != nil {
		return nil, fmt.Errorf("failed to decode bank cache %s: %w", path, err)
	}
	if cf.Version != cacheVersion {
		return nil, fmt.Errorf("bank cache %s has version %d, expected %d", path, cf.Version, cacheVersion)
	}

	b := &cf.Bank
	if b.Embeddings == nil {
		b.Embeddings = []float32{}
	}
	if b.Names == nil {
		b.Names = []string{}
	}
	if b.Meta == nil {
		b.Meta = []Meta{}
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("bank cache %s: %w", path, err)
	}
	return b, nil
}

// LoadOrBuild returns the cached bank at cachePath when present, without
// checking it against the gallery. Otherwise it builds the bank from the
// gallery document at galleryPath and caches it if it has any rows.
// dim is the embedder's output width. A cache or gallery of another width
// is rejected with ErrInconsistent.
func LoadOrBuild(store *storage.FileStore, cachePath, galleryPath string, dim int) (*Bank, error) {
	log := logging.Component("bank")

	if store.Exists(cachePath) {
		b, err := Load(store, cachePath)
		if err != nil {
			return nil, err
		}
		if err := b.CheckDim(dim); err != nil {
			return nil, fmt.Errorf("bank cache %s: %w", store.Path(cachePath), err)
		}
		log.WithFields(logging.Fields{
			"cache":  store.Path(cachePath),
			"sealed": store.Encrypted(),
			"rows":   b.Len(),
			"dim":    b.Dim,
		}).Info("Loaded bank from cache")
		return b, nil
	}

	doc, err := gallery.LoadDocument(galleryPath)
	if err != nil {
		return nil, err
	}

	b, err := FromDocument(doc, dim)
	if err != nil {
		return nil, err
	}
	if err := b.CheckDim(dim); err != nil {
		return nil, fmt.Errorf("gallery %s: %w", galleryPath, err)
	}

	log.WithFields(logging.Fields{
		"gallery": galleryPath,
		"rows":    b.Len(),
		"dropped": len(doc.Entries) - b.Len(),
		"dim":     b.Dim,
	}).Info("Built bank from gallery")

	if b.Len() > 0 {
		if err := Save(store, cachePath, b); err != nil {
			return nil, fmt.Errorf("failed to write bank cache: %w", err)
		}
	} else {
		log.Warn("Gallery has no usable entries; every face will be Unknown")
	}

	return b, nil
}
