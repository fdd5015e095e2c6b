// Package docstore defines the document-store interface used for normalized
// entities. By using an interface, the pipeline stays decoupled from the
// concrete backend, allowing a real MongoDB deployment in production and an
// in-memory store in tests.
package docstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that no document exists under the requested id.
var ErrNotFound = errors.New("document not found")

// Document is a stored entity snapshot plus the store-owned timestamps.
type Document struct {
	// ID is the derived composite identifier, unique per collection.
	ID string
	// Fields holds the entity payload written by the last upsert.
	Fields map[string]any
	// CreatedAt is set on first insert and never overwritten.
	CreatedAt time.Time
	// UpdatedAt reflects the most recent upsert.
	UpdatedAt time.Time
}

// Store is an idempotent document store. Upsert may be called any number of
// times with the same id; the document converges to the latest field values
// with the original creation timestamp.
type Store interface {
	// Upsert overwrites all fields of the document keyed by id, except the
	// creation timestamp which is set only on first insert.
	Upsert(ctx context.Context, collection, id string, fields map[string]any) error
	// Get loads a document or returns ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Close releases client resources.
	Close(ctx context.Context) error
}

// NoOpStore discards all writes. Useful for running the pipeline without a
// document store connection.
type NoOpStore struct{}

// Upsert for NoOpStore does nothing.
func (NoOpStore) Upsert(context.Context, string, string, map[string]any) error { return nil }

// Get for NoOpStore always reports missing documents.
func (NoOpStore) Get(context.Context, string, string) (Document, error) {
	return Document{}, ErrNotFound
}

// Close for NoOpStore does nothing.
func (NoOpStore) Close(context.Context) error { return nil }
