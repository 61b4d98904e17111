package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNew_Validates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client is required")

	_, err = New(&storage.Client{}, Config{})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestBlobStore_RejectsEmptyPath(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "archives"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), " ", "application/zip", nil)
	require.ErrorContains(t, err, "path is required")
	_, err = store.GetObject(context.Background(), "")
	require.ErrorContains(t, err, "path is required")
}

func TestURI(t *testing.T) {
	t.Parallel()

	require.Equal(t, "gs://archives/exports/1/a.lar", URI("archives", "exports/1/a.lar"))
	require.Equal(t, "gs://archives/x.lar", URI("archives", "/x.lar"))
}
