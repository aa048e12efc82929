package pipeline

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"dockhand/internal/logging"
)

// TempStager writes request-scoped working copies under
// temp_uploads/<tenant>/<uuid>.<ext>. The caller that stages a file owns its
// removal, on success and error paths alike; the sweeper reclaims anything
// an aborted request leaves behind.
type TempStager struct {
	root string
}

// NewTempStager creates a stager rooted at dir.
func NewTempStager(dir string) *TempStager {
	return &TempStager{root: dir}
}

// Root exposes the staging root for the sweeper.
func (t *TempStager) Root() string { return t.root }

// Stage writes data to a fresh tenant-scoped temp file and returns its path.
func (t *TempStager) Stage(yachtID, mimeType string, data []byte) (string, error) {
	dir := filepath.Join(t.root, yachtID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create temp directory: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+extensionFor(mimeType))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	return path, nil
}

// Remove deletes a staged file. Missing files are fine; the sweeper may have
// raced us.
func (t *TempStager) Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Get(logging.CategorySweep).Warn("failed to remove temp file %s: %v", path, err)
	}
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/heic":
		return ".heic"
	case "application/pdf":
		return ".pdf"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
