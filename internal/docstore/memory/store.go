// Package memory provides an in-memory document store for tests and local
// development.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/sociallens/social-ingest/internal/docstore"
)

// Store keeps documents in process memory. Safe for concurrent use; writes
// to one id are applied whole so a reader never sees a partial document.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string]docstore.Document
	now  func() time.Time
}

// NewStore creates an empty in-memory document store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]map[string]docstore.Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store clock. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Upsert overwrites the document's fields; the creation timestamp is fixed
// at first insert.
func (s *Store) Upsert(_ context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.data[collection]
	if !ok {
		coll = make(map[string]docstore.Document)
		s.data[collection] = coll
	}

	at := s.now()
	doc, exists := coll[id]
	if !exists {
		doc = docstore.Document{ID: id, CreatedAt: at}
	}
	doc.Fields = maps.Clone(fields)
	doc.UpdatedAt = at
	coll[id] = doc
	return nil
}

// Get returns a copy of the stored document.
func (s *Store) Get(_ context.Context, collection, id string) (docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.data[collection][id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	doc.Fields = maps.Clone(doc.Fields)
	return doc, nil
}

// Count returns the number of documents in a collection.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[collection])
}

// Close does nothing for the in-memory store.
func (s *Store) Close(context.Context) error { return nil }
