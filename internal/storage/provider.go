// Package storage defines the blob archive used for raw payload snapshots.
// By using an interface, we decouple the pipeline from a specific backend,
// so production can archive to GCS while tests use memory.
package storage

import (
	"context"
	"io"
)

// Provider persists raw payload snapshots and returns stable URIs.
type Provider interface {
	// PutObject persists the content under path and returns its URI.
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// NoOpProvider discards archived payloads. Useful when running without an
// archive bucket.
type NoOpProvider struct{}

// PutObject for NoOpProvider discards the data and returns a dummy URI.
func (NoOpProvider) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, data); err != nil {
		return "", err
	}
	return "noop://" + path, nil
}
