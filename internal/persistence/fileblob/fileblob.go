// Package fileblob implements persistence.BlobStore on the local
// filesystem with atomic replacement and a trash directory instead of
// hard deletes.
package fileblob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mailsift/mailsift/internal/fileutil"
	"github.com/mailsift/mailsift/internal/persistence"
)

var _ persistence.BlobStore = (*Store)(nil)

// Store keeps each blob as a file under baseDir.
type Store struct {
	baseDir string
}

// New creates a Store rooted at baseDir.
func New(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("blob store directory cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob store directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// ReadOrInit returns the content of the named blob, creating it with init
// when it does not exist yet.
func (s *Store) ReadOrInit(_ context.Context, name string, init []byte) ([]byte, persistence.BlobHandle, error) {
	path := s.blobPath(name)
	data, err := os.ReadFile(path)
	if err == nil {
		return data, persistence.BlobHandle(path), nil
	}
	if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("failed to read blob %s: %w", name, err)
	}
	if err := fileutil.WriteFileAtomic(path, init, 0o644); err != nil {
		return nil, "", fmt.Errorf("failed to initialize blob %s: %w", name, err)
	}
	return append([]byte(nil), init...), persistence.BlobHandle(path), nil
}

// Write replaces the blob content atomically.
func (s *Store) Write(_ context.Context, handle persistence.BlobHandle, content []byte) error {
	if handle == "" {
		return fmt.Errorf("blob handle cannot be empty")
	}
	return fileutil.WriteFileAtomic(string(handle), content, 0o644)
}

// Trash moves the named blob into the trash directory. The timestamped
// name keeps repeated trashes of the same blob from colliding.
func (s *Store) Trash(_ context.Context, name string) error {
	path := s.blobPath(name)
	if !fileutil.FileExists(path) {
		return nil
	}
	trashDir := filepath.Join(s.baseDir, ".trash")
	if err := os.MkdirAll(trashDir, 0o755); err != nil {
		return fmt.Errorf("failed to create trash directory: %w", err)
	}
	dst := filepath.Join(trashDir, fmt.Sprintf("%s.%d", name, time.Now().UnixNano()))
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("failed to trash blob %s: %w", name, err)
	}
	return nil
}

func (s *Store) blobPath(name string) string {
	return filepath.Join(s.baseDir, name)
}
