// Package storage defines the blob store abstraction used for extraction
// artifacts and encrypted session records. Implementations exist for Google
// Cloud Storage, the local filesystem, and in-memory development use.
package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by GetObject when no object exists at the
// requested path.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore reads and writes opaque objects by path. PutObject returns the
// provider-specific URI of the stored object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	DeleteObject(ctx context.Context, path string) error
}

// NoOpStore discards writes and reports every read as missing. Useful for
// dry runs where pages are extracted but nothing is persisted.
type NoOpStore struct{}

// PutObject discards the data and returns a placeholder URI.
func (NoOpStore) PutObject(_ context.Context, path string, _ string, _ []byte) (string, error) {
	return "noop://" + path, nil
}

// GetObject always reports a miss.
func (NoOpStore) GetObject(context.Context, string) ([]byte, error) {
	return nil, ErrObjectNotFound
}

// DeleteObject does nothing.
func (NoOpStore) DeleteObject(context.Context, string) error { return nil }
