package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileBlob stores the snapshot as a single JSON document on disk.
type FileBlob struct {
	path string
}

func NewFileBlob(path string) (*FileBlob, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: file path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create directory %s: %w", dir, err)
		}
	}
	return &FileBlob{path: path}, nil
}

func (f *FileBlob) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", f.path, err)
	}
	return data, nil
}

// Save writes to a temp file and renames it over the target, so a crash
// mid-write never leaves a truncated snapshot behind.
func (f *FileBlob) Save(ctx context.Context, data []byte) error {
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("storage: rename %s: %w", tmp, err)
	}
	return nil
}
