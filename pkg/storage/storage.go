// Package storage persists FaceWatch artifacts on disk.
// Artifacts can be encrypted at rest using NaCl secretbox with a key
// derived from the machine identity.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrCodeEU/facewatch/pkg/logging"
	"github.com/google/renameio"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
	// SealedExt is appended to the path of encrypted artifacts.
	SealedExt = ".enc"
)

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// FileStore reads and writes whole artifacts, sealing them when encryption is enabled.
type FileStore struct {
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewFileStore creates a store. With encryption enabled the key is derived
// from this machine, so sealed artifacts cannot be read elsewhere.
func NewFileStore(encryptionEnabled bool) (*FileStore, error) {
	if !encryptionEnabled {
		return &FileStore{}, nil
	}
	key, err := deriveKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return NewSealedFileStore(key), nil
}

// NewSealedFileStore creates an encrypting store with an explicit key.
func NewSealedFileStore(key [KeySize]byte) *FileStore {
	return &FileStore{encryptionEnabled: true, encryptionKey: key}
}

// deriveKey derives an encryption key from machine-specific information.
func deriveKey() ([KeySize]byte, error) {
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("facewatch-v1-salt")

	return sha256.Sum256([]byte(identity.String())), nil
}

// Encrypted reports whether artifacts are sealed.
func (fs *FileStore) Encrypted() bool {
	return fs.encryptionEnabled
}

// Path returns the on-disk location for an artifact.
func (fs *FileStore) Path(path string) string {
	if fs.encryptionEnabled && !strings.HasSuffix(path, SealedExt) {
		return path + SealedExt
	}
	return path
}

// Exists reports whether the artifact is present.
func (fs *FileStore) Exists(path string) bool {
	_, err := os.Stat(fs.Path(path))
	return err == nil
}

// Write atomically replaces the artifact with data.
func (fs *FileStore) Write(path string, data []byte) error {
	path = fs.Path(path)

	if fs.encryptionEnabled {
		sealed, err := fs.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt %s: %w", path, err)
		}
		data = sealed
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := renameio.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	logging.Debugf("Wrote artifact %s (%d bytes)", path, len(data))
	return nil
}

// Read returns the artifact contents, opening the seal when encryption is enabled.
func (fs *FileStore) Read(path string) ([]byte, error) {
	path = fs.Path(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if fs.encryptionEnabled {
		data, err = fs.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s: %w", path, err)
		}
	}

	return data, nil
}

// Remove deletes the artifact. Removing a missing artifact is not an error.
func (fs *FileStore) Remove(path string) error {
	path = fs.Path(path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStore) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStore) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+secretbox.Overhead {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}
