package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileBlobStore persists upload bytes on the local filesystem under a root
// directory. The storage path from the intake gate becomes the relative
// path under the root.
type FileBlobStore struct {
	root string
}

// NewFileBlobStore creates the store rooted at dir.
func NewFileBlobStore(dir string) *FileBlobStore {
	return &FileBlobStore{root: dir}
}

// Put writes blob bytes, creating parent directories on demand. The write
// goes through a temp file and rename so readers never see partial content.
func (s *FileBlobStore) Put(ctx context.Context, storagePath string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := filepath.Join(s.root, filepath.FromSlash(storagePath))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}

	tmp := full + ".partial"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize blob: %w", err)
	}
	return nil
}

// Get reads blob bytes back.
func (s *FileBlobStore) Get(ctx context.Context, storagePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(storagePath)))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}
