// Package artifacts stores evidence bundles in content-addressed storage.
package artifacts

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nicolRB/LogWare/pkg/canonicalize"
)

// ErrNotFound is returned when no artifact has the requested hash.
var ErrNotFound = errors.New("artifact not found")

const hashPrefix = "sha256:"

// Store defines the contract for Content-Addressed Storage (CAS) of Artifacts.
type Store interface {
	// Store persists data and returns its content hash (sha256:<hex>).
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by its content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists checks if an artifact exists by its content hash.
	Exists(ctx context.Context, hash string) (bool, error)
	// Delete removes an artifact by its content hash.
	Delete(ctx context.Context, hash string) error
}

// contentHash returns the prefixed hash of data and its bare hex form.
func contentHash(data []byte) (string, string) {
	raw := canonicalize.HashBytes(data)
	return hashPrefix + raw, raw
}

// parseHash validates "sha256:<64 hex>" and returns the hex part.
func parseHash(hash string) (string, error) {
	raw, ok := strings.CutPrefix(hash, hashPrefix)
	if !ok {
		return "", fmt.Errorf("invalid hash format: %s", hash)
	}
	if b, err := hex.DecodeString(raw); err != nil || len(b) != 32 {
		return "", fmt.Errorf("invalid hash hex: %s", hash)
	}
	return raw, nil
}

func blobName(raw string) string {
	return raw + ".blob"
}

// FileStore is a filesystem-backed implementation of Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a new CAS store at the specified directory.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(raw string) string {
	return filepath.Join(s.baseDir, blobName(raw))
}

func (s *FileStore) Store(_ context.Context, data []byte) (string, error) {
	hash, raw := contentHash(data)
	path := s.path(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	// Write to temp, then rename
	tmp, err := os.CreateTemp(s.baseDir, raw+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return hash, nil
}

func (s *FileStore) Get(_ context.Context, hash string) ([]byte, error) {
	raw, err := parseHash(hash)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(raw))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return data, err
}

func (s *FileStore) Exists(_ context.Context, hash string) (bool, error) {
	raw, err := parseHash(hash)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(s.path(raw))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Delete(_ context.Context, hash string) error {
	raw, err := parseHash(hash)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(raw)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}
