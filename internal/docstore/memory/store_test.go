package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sociallens/social-ingest/internal/docstore"
)

func TestUpsertSetsCreatedAtOnce(t *testing.T) {
	t.Parallel()

	s := NewStore()
	first := time.Unix(1712300000, 0).UTC()
	s.SetClock(func() time.Time { return first })

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "posts", "insta_alice::p1", map[string]any{"body": "v1"}))

	second := first.Add(time.Hour)
	s.SetClock(func() time.Time { return second })
	require.NoError(t, s.Upsert(ctx, "posts", "insta_alice::p1", map[string]any{"body": "v2"}))

	doc, err := s.Get(ctx, "posts", "insta_alice::p1")
	require.NoError(t, err)
	require.Equal(t, first, doc.CreatedAt)
	require.Equal(t, second, doc.UpdatedAt)
	require.Equal(t, "v2", doc.Fields["body"])
	require.Equal(t, 1, s.Count("posts"))
}

func TestUpsertTwiceEquivalentToOnce(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	fields := map[string]any{"body": "same"}

	require.NoError(t, s.Upsert(ctx, "comments", "id-1", fields))
	once, err := s.Get(ctx, "comments", "id-1")
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, "comments", "id-1", fields))
	twice, err := s.Get(ctx, "comments", "id-1")
	require.NoError(t, err)

	require.Equal(t, once.Fields, twice.Fields)
	require.Equal(t, once.CreatedAt, twice.CreatedAt)
	require.Equal(t, 1, s.Count("comments"))
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, err := s.Get(context.Background(), "posts", "nope")
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "posts", "id-1", map[string]any{"body": "orig"}))

	doc, err := s.Get(ctx, "posts", "id-1")
	require.NoError(t, err)
	doc.Fields["body"] = "mutated"

	again, err := s.Get(ctx, "posts", "id-1")
	require.NoError(t, err)
	require.Equal(t, "orig", again.Fields["body"])
}
