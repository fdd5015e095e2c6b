package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sociallens/social-ingest/internal/docstore"
	docmem "github.com/sociallens/social-ingest/internal/docstore/memory"
	"github.com/sociallens/social-ingest/internal/entity"
	qmem "github.com/sociallens/social-ingest/internal/queue/memory"
	"github.com/sociallens/social-ingest/internal/run"
	blobmem "github.com/sociallens/social-ingest/internal/storage/memory"
	"github.com/sociallens/social-ingest/internal/store"
)

type fakeRunRepo struct{}

func (fakeRunRepo) UpsertStart(context.Context, store.Run) error { return nil }
func (fakeRunRepo) Complete(context.Context, uuid.UUID, time.Time, store.RunStatus, int64, *string) error {
	return nil
}
func (fakeRunRepo) Get(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}
func (fakeRunRepo) List(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, nil
}

type fakeCheckpointRepo struct {
	records []recordedCheckpoint
	err     error
}

type recordedCheckpoint struct {
	scopeKey string
	name     string
	cursor   *string
	metrics  []store.Metric
}

func (f *fakeCheckpointRepo) Record(_ context.Context, scopeKey, name string, cursor *string, metrics []store.Metric) (store.Checkpoint, error) {
	if f.err != nil {
		return store.Checkpoint{}, f.err
	}
	f.records = append(f.records, recordedCheckpoint{scopeKey, name, cursor, metrics})
	return store.Checkpoint{ID: int64(len(f.records)), ScopeKey: scopeKey, Name: name, Cursor: cursor}, nil
}

func (f *fakeCheckpointRepo) Get(context.Context, string, string) (store.Checkpoint, error) {
	return store.Checkpoint{}, store.ErrNotFound
}

type failingDocStore struct {
	docmem *docmem.Store
	failID string
}

func (f *failingDocStore) Upsert(ctx context.Context, collection, id string, fields map[string]any) error {
	if id == f.failID {
		return errors.New("write rejected")
	}
	return f.docmem.Upsert(ctx, collection, id, fields)
}

func (f *failingDocStore) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	return f.docmem.Get(ctx, collection, id)
}

func (f *failingDocStore) Close(ctx context.Context) error { return f.docmem.Close(ctx) }

func startedManager(t *testing.T) *run.Manager {
	t.Helper()
	mgr := run.NewManager(fakeRunRepo{}, "instagram", zap.NewNop())
	_, err := mgr.Start(context.Background(), run.StartParams{SourceID: "insta::alice"})
	require.NoError(t, err)
	return mgr
}

func TestIngestPersistsPostAndCommentOutOfOrder(t *testing.T) {
	t.Parallel()

	docs := docmem.NewStore()
	checkpoints := &fakeCheckpointRepo{}
	mgr := startedManager(t)

	coord, err := New(docs, checkpoints, mgr, nil, nil, Config{}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()

	// The comment arrives before the post it belongs to.
	require.NoError(t, coord.Ingest(ctx, entity.RawRecord{
		Kind:     "comment",
		SourceID: "insta::alice",
		Fields: map[string]any{
			"profile_id": "alice",
			"post_id":    "p42",
			"comment_id": "c7",
			"body":       "first!",
		},
	}))
	require.NoError(t, coord.Ingest(ctx, entity.RawRecord{
		Kind:     "post",
		SourceID: "insta::alice",
		Fields: map[string]any{
			"profile_id": "alice",
			"post_id":    "p42",
			"body":       "hello world",
		},
	}))

	post, err := docs.Get(ctx, "posts", "insta_alice::p42")
	require.NoError(t, err)
	require.Equal(t, "hello world", post.Fields["body"])

	comment, err := docs.Get(ctx, "comments", "insta_alice_p42::c7")
	require.NoError(t, err)
	require.Equal(t, "insta_alice::p42", comment.Fields["parent_id"])

	require.EqualValues(t, 2, mgr.Items())
}

func TestIngestSkipsFailingRecordAndContinues(t *testing.T) {
	t.Parallel()

	inner := docmem.NewStore()
	docs := &failingDocStore{docmem: inner, failID: "insta_alice::p1"}
	mgr := startedManager(t)

	coord, err := New(docs, nil, mgr, nil, nil, Config{}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, coord.Ingest(ctx, entity.RawRecord{
		Kind:     "post",
		SourceID: "insta::alice",
		Fields:   map[string]any{"profile_id": "alice", "post_id": "p1"},
	}))
	require.NoError(t, coord.Ingest(ctx, entity.RawRecord{
		Kind:     "post",
		SourceID: "insta::alice",
		Fields:   map[string]any{"profile_id": "alice", "post_id": "p2"},
	}))

	require.Equal(t, 1, inner.Count("posts"))
	require.EqualValues(t, 1, mgr.Items())
}

func TestIngestRecordsCheckpointForCursorBearingRecord(t *testing.T) {
	t.Parallel()

	docs := docmem.NewStore()
	checkpoints := &fakeCheckpointRepo{}
	mgr := startedManager(t)

	coord, err := New(docs, checkpoints, mgr, nil, nil, Config{}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, coord.Ingest(context.Background(), entity.RawRecord{
		Kind:     "post",
		SourceID: "insta::alice",
		Fields: map[string]any{
			"profile_id": "alice",
			"post_id":    "p42",
			"checkpoint": "page-3",
		},
	}))

	require.Len(t, checkpoints.records, 1)
	rec := checkpoints.records[0]
	require.Equal(t, "insta::alice", rec.scopeKey)
	require.Equal(t, "post_page", rec.name)
	require.NotNil(t, rec.cursor)
	require.Equal(t, "page-3", *rec.cursor)
	require.Len(t, rec.metrics, 1)
	require.Equal(t, "items_collected", rec.metrics[0].Name)
	require.EqualValues(t, 1, rec.metrics[0].Value)
}

func TestIngestCheckpointFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	docs := docmem.NewStore()
	checkpoints := &fakeCheckpointRepo{err: errors.New("db down")}
	mgr := startedManager(t)

	coord, err := New(docs, checkpoints, mgr, nil, nil, Config{}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, coord.Ingest(context.Background(), entity.RawRecord{
		Kind:     "post",
		SourceID: "insta::alice",
		Fields: map[string]any{
			"profile_id": "alice",
			"post_id":    "p42",
			"checkpoint": "page-3",
		},
	}))

	// The document still landed even though the checkpoint write failed.
	require.Equal(t, 1, docs.Count("posts"))
	require.EqualValues(t, 1, mgr.Items())
}

func TestIngestUnrecognizedKindIsSkipped(t *testing.T) {
	t.Parallel()

	docs := docmem.NewStore()
	mgr := startedManager(t)

	coord, err := New(docs, nil, mgr, nil, nil, Config{}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, coord.Ingest(context.Background(), entity.RawRecord{
		Kind:     "story",
		SourceID: "insta::alice",
		Fields:   map[string]any{"id": "s1"},
	}))

	require.Equal(t, 0, docs.Count("posts"))
	require.EqualValues(t, 0, mgr.Items())
}

func TestIngestEnqueuesCommentTaskForPostWithPermalink(t *testing.T) {
	t.Parallel()

	docs := docmem.NewStore()
	producer := qmem.New()
	mgr := startedManager(t)

	coord, err := New(docs, nil, mgr, producer, nil, Config{EnqueueCommentTasks: true}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, coord.Ingest(ctx, entity.RawRecord{
		Kind:     "post",
		SourceID: "insta::alice",
		Fields: map[string]any{
			"profile_id": "alice",
			"post_id":    "p42",
			"permalink":  "https://instagram.com/p/p42",
		},
	}))
	// No permalink, no task.
	require.NoError(t, coord.Ingest(ctx, entity.RawRecord{
		Kind:     "post",
		SourceID: "insta::alice",
		Fields:   map[string]any{"profile_id": "alice", "post_id": "p43"},
	}))

	tasks := producer.Tasks()
	require.Len(t, tasks, 1)
	require.Equal(t, "https://instagram.com/p/p42", tasks[0].URL)
	require.Equal(t, "insta_alice::p42", tasks[0].TargetID)
	require.Equal(t, "comments", tasks[0].Meta["kind"])
}

func TestIngestArchivesRawPayload(t *testing.T) {
	t.Parallel()

	docs := docmem.NewStore()
	archive := blobmem.NewBlobStore()
	mgr := startedManager(t)

	coord, err := New(docs, nil, mgr, nil, archive, Config{ArchivePrefix: "raw"}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, coord.Ingest(context.Background(), entity.RawRecord{
		Kind:     "post",
		SourceID: "insta::alice",
		Fields:   map[string]any{"profile_id": "alice", "post_id": "p42", "body": "hi"},
	}))

	require.Equal(t, 1, archive.Len())
	payload, ok := archive.Object("raw/posts/insta_alice::p42.json")
	require.True(t, ok)
	require.Contains(t, string(payload), `"body":"hi"`)

	doc, err := docs.Get(context.Background(), "posts", "insta_alice::p42")
	require.NoError(t, err)
	require.Equal(t, "memory://raw/posts/insta_alice::p42.json", doc.Fields["raw_uri"])
}

func TestIngestCanceledContext(t *testing.T) {
	t.Parallel()

	docs := docmem.NewStore()
	mgr := startedManager(t)

	coord, err := New(docs, nil, mgr, nil, nil, Config{}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = coord.Ingest(ctx, entity.RawRecord{Kind: "post", SourceID: "s"})
	require.ErrorIs(t, err, context.Canceled)
}
