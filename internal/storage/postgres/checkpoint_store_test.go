package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sociallens/social-ingest/internal/store"
)

func newTestCheckpointStore(t *testing.T, mock PoolIface, at time.Time) *CheckpointStore {
	t.Helper()
	s, err := NewCheckpointStore(mock, CheckpointStoreConfig{}, zap.NewNop())
	require.NoError(t, err)
	s.now = func() time.Time { return at }
	return s
}

func TestCheckpointStoreRejectsBadTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewCheckpointStore(mock, CheckpointStoreConfig{CheckpointTable: "bad;drop"}, nil)
	require.Error(t, err)
}

func TestCheckpointStoreRecordWithMetrics(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Unix(1712300000, 0).UTC()
	s := newTestCheckpointStore(t, mock, at)

	cursor := "cursor-xyz"
	unit := "count"

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO checkpoints").
		WithArgs("insta::alice", "posts_page", &cursor, at).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(17)))
	mock.ExpectExec("INSERT INTO metrics").
		WithArgs(int64(17), "pages_seen", float64(3), &unit, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	cp, err := s.Record(context.Background(), "insta::alice", "posts_page", &cursor, []store.Metric{
		{Name: "pages_seen", Value: 3, Unit: &unit},
	})
	require.NoError(t, err)
	require.Equal(t, int64(17), cp.ID)
	require.Equal(t, at, cp.RecordedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointStoreRecordWithoutMetrics(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Unix(1712300000, 0).UTC()
	s := newTestCheckpointStore(t, mock, at)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO checkpoints").
		WithArgs("insta::alice", "posts_page", (*string)(nil), at).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(18)))
	mock.ExpectCommit()
	mock.ExpectRollback()

	cp, err := s.Record(context.Background(), "insta::alice", "posts_page", nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(18), cp.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointStoreRecordRollsBackOnMetricFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Unix(1712300000, 0).UTC()
	s := newTestCheckpointStore(t, mock, at)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO checkpoints").
		WithArgs("insta::alice", "posts_page", (*string)(nil), at).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(19)))
	mock.ExpectExec("INSERT INTO metrics").
		WithArgs(int64(19), "pages_seen", float64(1), (*string)(nil), at).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = s.Record(context.Background(), "insta::alice", "posts_page", nil, []store.Metric{
		{Name: "pages_seen", Value: 1},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointStoreRecordRequiresScope(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := newTestCheckpointStore(t, mock, time.Now())
	_, err = s.Record(context.Background(), "", "name", nil, nil)
	require.Error(t, err)
}

func TestCheckpointStoreGet(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Unix(1712300000, 0).UTC()
	s := newTestCheckpointStore(t, mock, at)

	cursor := "cursor-abc"
	rows := pgxmock.NewRows([]string{"id", "scope_key", "name", "cursor", "recorded_at"}).
		AddRow(int64(4), "insta::alice", "posts_page", &cursor, at)

	mock.ExpectQuery("SELECT id, scope_key, name, cursor, recorded_at").
		WithArgs("insta::alice", "posts_page").
		WillReturnRows(rows)

	cp, err := s.Get(context.Background(), "insta::alice", "posts_page")
	require.NoError(t, err)
	require.Equal(t, "posts_page", cp.Name)
	require.NotNil(t, cp.Cursor)
	require.Equal(t, "cursor-abc", *cp.Cursor)
	require.NoError(t, mock.ExpectationsWereMet())
}
