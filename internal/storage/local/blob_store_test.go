package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{})
	require.Error(t, err)

	nested := filepath.Join(t.TempDir(), "a", "b")
	blobs, err := local.New(local.Config{BaseDir: nested})
	require.NoError(t, err)
	require.NotNil(t, blobs)
	require.DirExists(t, nested)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = local.New(local.Config{BaseDir: file})
	require.Error(t, err)
}

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := t.TempDir()
	blobs, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)

	uri, err := blobs.PutObject(ctx, "user-documents/user_1/20240101_120000_notes.md", "text/markdown", bytes.NewReader([]byte("# notes")))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(base, "user-documents/user_1/20240101_120000_notes.md"), uri)

	got, err := blobs.GetObject(ctx, "user-documents/user_1/20240101_120000_notes.md")
	require.NoError(t, err)
	require.Equal(t, "# notes", string(got))

	require.NoError(t, blobs.DeleteObject(ctx, "user-documents/user_1/20240101_120000_notes.md"))
	_, err = blobs.GetObject(ctx, "user-documents/user_1/20240101_120000_notes.md")
	require.ErrorIs(t, err, crawler.ErrBlobNotFound)
	require.NoError(t, blobs.DeleteObject(ctx, "user-documents/user_1/20240101_120000_notes.md"))
}

func TestBlobStoreRejectsTraversal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = blobs.PutObject(ctx, "../escape.txt", "", bytes.NewReader([]byte("x")))
	require.ErrorContains(t, err, "traversal")
	_, err = blobs.GetObject(ctx, "../../etc/passwd")
	require.ErrorContains(t, err, "traversal")
	require.ErrorContains(t, blobs.DeleteObject(ctx, ".."), "traversal")
	_, err = blobs.PutObject(ctx, "", "", bytes.NewReader(nil))
	require.Error(t, err)
}
