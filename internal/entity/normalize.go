package entity

import (
	"fmt"
	"strings"
	"time"
)

// DeriveID builds a composite identifier from the given parts. Each part is
// trimmed, lowercased, and has any embedded separator replaced before the
// parts are joined with "::". Empty parts are skipped. Applied consistently,
// a comment's parent identifier always equals the post's own derived id.
func DeriveID(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.ToLower(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		cleaned = append(cleaned, strings.ReplaceAll(p, "::", "_"))
	}
	return strings.Join(cleaned, "::")
}

// timestampLayouts are tried in order. Layouts without a zone are interpreted
// as UTC.
var timestampLayouts = []struct {
	layout  string
	hasZone bool
}{
	{time.RFC3339Nano, true},
	{time.RFC3339, true},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02 15:04", false},
	{"2006-01-02", false},
}

// ParseTimestamp parses an ISO-8601-like string into a canonical UTC time.
// A missing zone is treated as UTC. Absent or unparseable input yields nil so
// downstream ordering treats the timestamp as unknown rather than earliest.
func ParseTimestamp(value string) *time.Time {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		return nil
	}
	for _, l := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if l.hasZone {
			t, err = time.Parse(l.layout, candidate)
		} else {
			t, err = time.ParseInLocation(l.layout, candidate, time.UTC)
		}
		if err != nil {
			continue
		}
		utc := t.UTC()
		return &utc
	}
	return nil
}

// Normalize converts a raw record into its typed variant. Unknown kinds come
// back as a KindUnrecognized entity carrying the raw payload together with
// ErrUnrecognizedKind; the error is diagnostic, not fatal.
func Normalize(raw RawRecord) (Entity, error) {
	switch strings.ToLower(strings.TrimSpace(raw.Kind)) {
	case "profile":
		return normalizeProfile(raw), nil
	case "post":
		return normalizePost(raw), nil
	case "comment", "reply":
		return normalizeComment(raw), nil
	default:
		return Entity{
			Kind:     KindUnrecognized,
			SourceID: raw.SourceID,
			Raw:      raw.Fields,
		}, fmt.Errorf("%w: %q", ErrUnrecognizedKind, raw.Kind)
	}
}

func normalizeProfile(raw RawRecord) Entity {
	profileKey := stringField(raw.Fields, "profile_id", "id")
	return Entity{
		Kind:        KindProfile,
		ID:          DeriveID(raw.SourceID, profileKey),
		SourceID:    raw.SourceID,
		ExternalID:  profileKey,
		DisplayName: strings.TrimSpace(stringField(raw.Fields, "display_name")),
		Cursor:      stringField(raw.Fields, "checkpoint"),
		Raw:         raw.Fields,
	}
}

func normalizePost(raw RawRecord) Entity {
	profileID := DeriveID(raw.SourceID, stringField(raw.Fields, "profile_id"))
	postKey := stringField(raw.Fields, "post_id", "id")
	return Entity{
		Kind:       KindPost,
		ID:         DeriveID(profileID, postKey),
		ParentID:   profileID,
		SourceID:   raw.SourceID,
		ExternalID: postKey,
		Body:       strings.TrimSpace(stringField(raw.Fields, "body", "text")),
		CreatedAt:  ParseTimestamp(stringField(raw.Fields, "created_at")),
		Stats:      mapField(raw.Fields, "stats"),
		Cursor:     stringField(raw.Fields, "checkpoint"),
		Raw:        raw.Fields,
	}
}

func normalizeComment(raw RawRecord) Entity {
	profileID := DeriveID(raw.SourceID, stringField(raw.Fields, "profile_id"))
	postID := DeriveID(profileID, stringField(raw.Fields, "post_id"))
	commentKey := stringField(raw.Fields, "comment_id", "id")
	return Entity{
		Kind:       KindComment,
		ID:         DeriveID(postID, commentKey),
		ParentID:   postID,
		SourceID:   raw.SourceID,
		ExternalID: commentKey,
		Body:       strings.TrimSpace(stringField(raw.Fields, "body", "text")),
		CreatedAt:  ParseTimestamp(stringField(raw.Fields, "created_at")),
		Cursor:     stringField(raw.Fields, "checkpoint"),
		Raw:        raw.Fields,
	}
}

// stringField returns the first present key coerced to a string.
func stringField(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case fmt.Stringer:
			return s.String()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

func mapField(fields map[string]any, key string) map[string]any {
	if m, ok := fields[key].(map[string]any); ok {
		return m
	}
	return nil
}
