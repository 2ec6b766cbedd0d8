package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the minimal operations the submission flow needs for
// archives. It is intentionally small so the local-disk default and the
// MinIO backend stay interchangeable without touching business logic.
type ObjectStorage interface {
	// Put stores an object under key. size may be -1 when unknown.
	Put(ctx context.Context, key string, reader io.Reader, size int64) error

	// Get opens a reader for an object.
	// Caller must close the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether the object is present on durable storage.
	Exists(ctx context.Context, key string) (bool, error)
}

// Config selects and configures the archive storage backend.
type Config struct {
	// Type is "local" (default) or "minio".
	Type string `yaml:"type"`

	// LocalDir is the submissions directory for the local backend.
	LocalDir string `yaml:"localDir"`

	MinIO MinIOConfig `yaml:"minio"`
}
