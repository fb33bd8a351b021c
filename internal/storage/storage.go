package storage

import (
	"context"
	"fmt"
	"strings"
)

type Storage interface {
	// Put stores data with the given key and returns the storage URL
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get retrieves data from the given storage URL
	Get(ctx context.Context, url string) ([]byte, error)
	// Delete removes the object at the given storage URL
	Delete(ctx context.Context, url string) error
}

// SplitS3URL splits s3://bucket/key into bucket and key.
func SplitS3URL(url string) (string, string, error) {
	rest, ok := strings.CutPrefix(url, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %s", url)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url must be s3://bucket/key: %s", url)
	}
	return bucket, key, nil
}

// ForURL returns the backend able to Get the given location: S3 for s3:// URLs, the local filesystem otherwise.
func ForURL(ctx context.Context, url string) (Storage, error) {
	if !strings.HasPrefix(url, "s3://") {
		return NewFileStorage(ctx, FileConfig{})
	}

	bucket, _, err := SplitS3URL(url)
	if err != nil {
		return nil, err
	}
	return NewS3Storage(ctx, S3Config{
		Bucket: bucket,
	})
}

// NewS3StorageForPrefix returns an S3 backend that writes every key under
// s3://bucket/prefix.
func NewS3StorageForPrefix(ctx context.Context, url string) (Storage, error) {
	rest, ok := strings.CutPrefix(url, "s3://")
	if !ok {
		return nil, fmt.Errorf("not an s3 url: %s", url)
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("s3 url has no bucket: %s", url)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return NewS3Storage(ctx, S3Config{
		Bucket: bucket,
		Prefix: prefix,
	})
}
