// Package storage defines the blob store used for capture artifacts.
// Crawled pages produce two blobs per leaf, the rendered HTML and a
// screenshot, and the returned references are recorded on the site graph.
package storage

import (
	"context"
	"fmt"
	"io"
)

// BlobStore persists capture artifacts and returns a stable reference
// (file://, gs://, or a scheme of the backend's choosing).
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoopStore discards artifacts. Useful for dry runs where pages are
// fetched and extracted but nothing is persisted.
type NoopStore struct{}

// PutObject drops the data and returns a noop reference.
func (NoopStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", fmt.Errorf("discard object: %w", err)
	}
	return "noop://" + path, nil
}
