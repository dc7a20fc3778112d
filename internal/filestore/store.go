// Package filestore persists uploaded blobs under category labels and hands
// back opaque reference strings.
package filestore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store is the file persistence boundary.
type Store interface {
	// Save persists the reader's bytes under a category and returns a
	// reference string.
	Save(ctx context.Context, category, name string, r io.Reader) (string, error)
	// Delete removes a stored file by reference. Best effort; callers may
	// ignore the error.
	Delete(ctx context.Context, ref string) error
	// Open returns a reader for a stored file.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// DiskStore stores files under a base directory. References have the form
// /uploads/<category>/<uuid><ext>.
type DiskStore struct {
	baseDir string
	logger  *slog.Logger
}

// NewDiskStore constructs a DiskStore rooted at baseDir.
func NewDiskStore(baseDir string, logger *slog.Logger) *DiskStore {
	return &DiskStore{baseDir: baseDir, logger: logger}
}

// Save writes the file and returns its reference.
func (s *DiskStore) Save(_ context.Context, category, name string, r io.Reader) (string, error) {
	dir := filepath.Join(s.baseDir, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("filestore: create dir: %w", err)
	}

	filename := uuid.NewString() + sanitizeExt(name)
	path := filepath.Join(dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("filestore: create %s: %w", filename, err)
	}
	written, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("filestore: write %s: %w", filename, err)
	}
	if written == 0 {
		_ = os.Remove(path)
		return "", fmt.Errorf("filestore: %s is empty after save", name)
	}

	return "/uploads/" + category + "/" + filename, nil
}

// Delete removes the file behind ref.
func (s *DiskStore) Delete(_ context.Context, ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Open returns the stored file contents.
func (s *DiskStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (s *DiskStore) resolve(ref string) (string, error) {
	rel, ok := strings.CutPrefix(ref, "/uploads/")
	if !ok {
		return "", fmt.Errorf("filestore: malformed reference %q", ref)
	}
	rel = filepath.Clean(rel)
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("filestore: malformed reference %q", ref)
	}
	return filepath.Join(s.baseDir, rel), nil
}

func sanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || len(ext) > 8 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}
