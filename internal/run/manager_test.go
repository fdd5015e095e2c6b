package run

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sociallens/social-ingest/internal/store"
)

type fakeRunRepo struct {
	mu          sync.Mutex
	started     []store.Run
	completed   []completedCall
	startErr    error
	completeErr error
}

type completedCall struct {
	id         uuid.UUID
	finishedAt time.Time
	status     store.RunStatus
	items      int64
	errMsg     *string
}

func (r *fakeRunRepo) UpsertStart(_ context.Context, run store.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.started = append(r.started, run)
	return nil
}

func (r *fakeRunRepo) Complete(
	_ context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	items int64,
	errMsg *string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, completedCall{id, finishedAt, status, items, errMsg})
	return r.completeErr
}

func (r *fakeRunRepo) Get(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}

func (r *fakeRunRepo) List(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, nil
}

func (r *fakeRunRepo) lastCompleted(t *testing.T) completedCall {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.completed)
	return r.completed[len(r.completed)-1]
}

func TestStartWithoutRepoFailsConfiguration(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, "profile", zap.NewNop())
	_, err := m.Start(context.Background(), StartParams{SourceID: "insta::alice"})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestStartGeneratesRunIDAndRecordsRunning(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	m := NewManager(repo, "profile", zap.NewNop())

	token, err := m.Start(context.Background(), StartParams{
		SourceID:   "insta::alice",
		WindowDays: 7,
		Context:    map[string]any{"trigger": "cron"},
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, token.RunID)

	require.Len(t, repo.started, 1)
	rec := repo.started[0]
	require.Equal(t, token.RunID, rec.ID)
	require.Equal(t, store.RunRunning, rec.Status)
	require.Equal(t, 7, rec.Context["window_days"])
	require.Equal(t, "cron", rec.Context["trigger"])

	require.NoError(t, m.Finish(context.Background()))
}

func TestStartHonorsSuppliedRunID(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	m := NewManager(repo, "profile", zap.NewNop())

	supplied := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	token, err := m.Start(context.Background(), StartParams{SourceID: "s", RunID: supplied})
	require.NoError(t, err)
	require.Equal(t, supplied, token.RunID)
	require.NoError(t, m.Finish(context.Background()))
}

func TestStartFailsWhileActive(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	m := NewManager(repo, "profile", zap.NewNop())

	_, err := m.Start(context.Background(), StartParams{SourceID: "s"})
	require.NoError(t, err)
	_, err = m.Start(context.Background(), StartParams{SourceID: "s"})
	require.Error(t, err)
	require.NoError(t, m.Finish(context.Background()))
}

func TestFailRecordsItemsAndMessage(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	m := NewManager(repo, "profile", zap.NewNop())

	_, err := m.Start(context.Background(), StartParams{SourceID: "s"})
	require.NoError(t, err)

	m.IncrementItems(3)
	m.IncrementItems(2)
	m.IncrementItems(0)
	m.IncrementItems(-1)

	require.NoError(t, m.Fail(context.Background(), "boom"))

	call := repo.lastCompleted(t)
	require.Equal(t, store.RunFailed, call.status)
	require.Equal(t, int64(5), call.items)
	require.NotNil(t, call.errMsg)
	require.Equal(t, "boom", *call.errMsg)
	require.False(t, call.finishedAt.IsZero())
}

func TestFailTruncatesMessage(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	m := NewManager(repo, "profile", zap.NewNop())

	_, err := m.Start(context.Background(), StartParams{SourceID: "s"})
	require.NoError(t, err)

	require.NoError(t, m.Fail(context.Background(), strings.Repeat("x", 5000)))
	call := repo.lastCompleted(t)
	require.Len(t, *call.errMsg, 2000)
}

func TestFailReleasesBindingEvenWhenWriteErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{completeErr: errors.New("pg down")}
	m := NewManager(repo, "profile", zap.NewNop())

	_, err := m.Start(context.Background(), StartParams{SourceID: "s"})
	require.NoError(t, err)

	err = m.Fail(context.Background(), "boom")
	require.Error(t, err)

	_, active := m.Token()
	require.False(t, active)

	// Terminal calls after release are no-ops.
	require.NoError(t, m.Finish(context.Background()))
	require.Len(t, repo.completed, 1)
}

func TestFinishWithoutActiveRunIsNoOp(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	m := NewManager(repo, "profile", zap.NewNop())
	require.NoError(t, m.Finish(context.Background()))
	require.Empty(t, repo.completed)
}

func TestFinishClearsErrorMessage(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	m := NewManager(repo, "profile", zap.NewNop())

	_, err := m.Start(context.Background(), StartParams{SourceID: "s"})
	require.NoError(t, err)
	m.IncrementItems(1)
	require.NoError(t, m.Finish(context.Background()))

	call := repo.lastCompleted(t)
	require.Equal(t, store.RunFinished, call.status)
	require.Equal(t, int64(1), call.items)
	require.Nil(t, call.errMsg)
}

func TestIncrementItemsConcurrent(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	m := NewManager(repo, "profile", zap.NewNop())

	_, err := m.Start(context.Background(), StartParams{SourceID: "s"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementItems(2)
		}()
	}
	wg.Wait()

	require.NoError(t, m.Finish(context.Background()))
	require.Equal(t, int64(100), repo.lastCompleted(t).items)
}
