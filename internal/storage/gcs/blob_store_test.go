package gcs

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)

	blobs, err := New(&storage.Client{}, Config{Bucket: "b", Prefix: "rag/"})
	require.NoError(t, err)
	require.Equal(t, "b", blobs.bucket)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	blobs := &BlobStore{bucket: "b", prefix: "rag/"}
	name, err := blobs.objectName("/raw/job/scraped_data.json")
	require.NoError(t, err)
	require.Equal(t, "rag/raw/job/scraped_data.json", name)

	_, err = blobs.objectName("  ")
	require.Error(t, err)
}
