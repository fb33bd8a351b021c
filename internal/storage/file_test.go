package storage_test

import (
	"context"
	"mockup-check/internal/storage"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStorage(t *testing.T) {
	ctx := context.Background()
	directory := filepath.Join(t.TempDir(), "screenshots")

	s, err := storage.NewFileStorage(ctx, storage.FileConfig{
		Directory: directory,
	})
	require.NoError(t, err)

	path, err := s.Put(ctx, "homepage-current.png", []byte("first"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(directory, "homepage-current.png"), path)

	// The directory already exists on the second write.
	path, err = s.Put(ctx, "homepage-current.png", []byte("second"))
	require.NoError(t, err)

	data, err := s.Get(ctx, path)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), data)

	require.NoError(t, s.Delete(ctx, path))
	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, s.Delete(ctx, path), "deleting a missing file is not an error")

	_, err = s.Get(ctx, path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSplitS3URL(t *testing.T) {
	bucket, key, err := storage.SplitS3URL("s3://mockups/docs/homepage.png")
	require.NoError(t, err)
	require.Equal(t, "mockups", bucket)
	require.Equal(t, "docs/homepage.png", key)

	for _, url := range []string{"/srv/homepage.png", "s3://mockups", "s3:///homepage.png"} {
		_, _, err := storage.SplitS3URL(url)
		require.Error(t, err, url)
	}
}

func TestForURL_Local(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "homepage.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0644))

	s, err := storage.ForURL(ctx, path)
	require.NoError(t, err)

	data, err := s.Get(ctx, path)
	require.NoError(t, err)
	require.Equal(t, []byte("png"), data)
}

func TestNewS3StorageForPrefix_InvalidURL(t *testing.T) {
	for _, url := range []string{"screenshots", "s3://", "s3:///diffs"} {
		_, err := storage.NewS3StorageForPrefix(context.Background(), url)
		require.Error(t, err, url)
	}
}
