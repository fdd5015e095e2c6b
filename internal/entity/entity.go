// Package entity defines the normalized domain records produced from raw
// scraped payloads. Normalization is pure: the same raw input always yields
// the same derived identifier, independent of processing order or retries.
package entity

import (
	"errors"
	"time"
)

// Kind tags the closed set of entity variants the pipeline understands.
type Kind string

// Entity kinds. Records whose kind is not in this set are carried through as
// KindUnrecognized rather than dropped.
const (
	KindProfile      Kind = "profile"
	KindPost         Kind = "post"
	KindComment      Kind = "comment"
	KindUnrecognized Kind = "unrecognized"
)

// ErrUnrecognizedKind reports a record whose kind tag is not part of the
// closed variant set. Callers log it; it is never fatal to a run.
var ErrUnrecognizedKind = errors.New("unrecognized entity kind")

// RawRecord is a fetched record as handed over by the scheduler: an entity
// kind tag, the source identity it was collected for, and the loosely-typed
// field map extracted from the page.
type RawRecord struct {
	Kind     string
	SourceID string
	Fields   map[string]any
}

// Entity is a normalized record with a deterministic composite identifier.
// ParentID links a post to its profile and a comment to its post.
type Entity struct {
	Kind        Kind
	ID          string
	ParentID    string
	SourceID    string
	ExternalID  string
	DisplayName string
	Body        string
	CreatedAt   *time.Time
	Stats       map[string]any

	// Cursor carries an optional pagination marker attached to the record
	// by the fetch layer, persisted as a checkpoint by the coordinator.
	Cursor string

	// Raw preserves the original payload snapshot for audit.
	Raw map[string]any
}

// Collection returns the document-store collection this entity belongs to.
// Unrecognized entities have no collection and are not persisted.
func (e Entity) Collection() string {
	switch e.Kind {
	case KindProfile:
		return "profiles"
	case KindPost:
		return "posts"
	case KindComment:
		return "comments"
	default:
		return ""
	}
}

// Document flattens the entity into the field map stored in the document
// store. The derived identifier is the document key and is not repeated in
// the field set; the creation timestamp is owned by the store.
func (e Entity) Document() map[string]any {
	doc := map[string]any{
		"source_id":   e.SourceID,
		"external_id": e.ExternalID,
		"raw":         e.Raw,
	}
	if e.ParentID != "" {
		doc["parent_id"] = e.ParentID
	}
	if e.DisplayName != "" {
		doc["display_name"] = e.DisplayName
	}
	if e.Body != "" {
		doc["body"] = e.Body
	}
	if e.CreatedAt != nil {
		doc["created_at_source"] = e.CreatedAt.UTC().Format(time.RFC3339)
	}
	if len(e.Stats) > 0 {
		doc["stats"] = e.Stats
	}
	return doc
}
