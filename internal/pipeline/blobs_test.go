package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	s := NewFileBlobStore(t.TempDir())
	ctx := context.Background()

	path := "yacht-1/2026/08/abc123.jpg"
	require.NoError(t, s.Put(ctx, path, []byte("jpeg bytes")))

	got, err := s.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg bytes"), got)
}

func TestBlobStorePutLeavesNoPartialFile(t *testing.T) {
	root := t.TempDir()
	s := NewFileBlobStore(root)
	require.NoError(t, s.Put(context.Background(), "yacht-1/doc.pdf", []byte("pdf")))

	entries, err := os.ReadDir(filepath.Join(root, "yacht-1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc.pdf", entries[0].Name())
}

func TestBlobStoreOverwrite(t *testing.T) {
	s := NewFileBlobStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "yacht-1/doc.pdf", []byte("v1")))
	require.NoError(t, s.Put(ctx, "yacht-1/doc.pdf", []byte("v2")))

	got, err := s.Get(ctx, "yacht-1/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestBlobStoreGetMissing(t *testing.T) {
	s := NewFileBlobStore(t.TempDir())
	_, err := s.Get(context.Background(), "yacht-1/nope.jpg")
	assert.Error(t, err)
}

func TestBlobStoreHonorsCancelledContext(t *testing.T) {
	s := NewFileBlobStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Put(ctx, "yacht-1/doc.pdf", []byte("pdf")), context.Canceled)
	_, err := s.Get(ctx, "yacht-1/doc.pdf")
	assert.ErrorIs(t, err, context.Canceled)
}
