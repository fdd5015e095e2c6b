package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/sociallens/social-ingest/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CheckpointStoreConfig controls the tables used for checkpoint rows.
type CheckpointStoreConfig struct {
	CheckpointTable string
	MetricTable     string
}

// CheckpointStore implements store.CheckpointRepository on Postgres. A
// checkpoint row and its metric rows are written in one transaction.
type CheckpointStore struct {
	pool            PoolIface
	checkpointTable string
	metricTable     string
	logger          *zap.Logger
	now             func() time.Time
}

// NewCheckpointStore constructs a CheckpointStore from an existing pool.
func NewCheckpointStore(pool PoolIface, cfg CheckpointStoreConfig, logger *zap.Logger) (*CheckpointStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	checkpointTable := cfg.CheckpointTable
	if checkpointTable == "" {
		checkpointTable = "checkpoints"
	}
	metricTable := cfg.MetricTable
	if metricTable == "" {
		metricTable = "metrics"
	}
	for _, table := range []string{checkpointTable, metricTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &CheckpointStore{
		pool:            pool,
		checkpointTable: checkpointTable,
		metricTable:     metricTable,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying pool resources.
func (s *CheckpointStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Record upserts the checkpoint keyed by (scopeKey, name) and overwrites each
// supplied metric keyed by (checkpoint id, metric name). Everything commits
// atomically so resumability state is never observed half-written.
func (s *CheckpointStore) Record(
	ctx context.Context,
	scopeKey, name string,
	cursor *string,
	metrics []store.Metric,
) (store.Checkpoint, error) {
	if scopeKey == "" || name == "" {
		return store.Checkpoint{}, fmt.Errorf("scope key and name are required")
	}
	recordedAt := s.now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.Checkpoint{}, fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("checkpoint tx rollback failed", zap.Error(rbErr))
		}
	}()

	upsertQuery := fmt.Sprintf(`
		INSERT INTO %s (scope_key, name, cursor, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (scope_key, name) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			recorded_at = EXCLUDED.recorded_at
		RETURNING id;
	`, s.checkpointTable)

	cp := store.Checkpoint{
		ScopeKey:   scopeKey,
		Name:       name,
		Cursor:     cursor,
		RecordedAt: recordedAt,
	}
	if err := tx.QueryRow(ctx, upsertQuery, scopeKey, name, cursor, recordedAt).Scan(&cp.ID); err != nil {
		return store.Checkpoint{}, fmt.Errorf("upsert checkpoint: %w", err)
	}

	metricQuery := fmt.Sprintf(`
		INSERT INTO %s (checkpoint_id, name, value, unit, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (checkpoint_id, name) DO UPDATE SET
			value = EXCLUDED.value,
			unit = EXCLUDED.unit,
			recorded_at = EXCLUDED.recorded_at;
	`, s.metricTable)

	for _, m := range metrics {
		if m.Name == "" {
			return store.Checkpoint{}, fmt.Errorf("metric name is required")
		}
		if _, err := tx.Exec(ctx, metricQuery, cp.ID, m.Name, m.Value, m.Unit, recordedAt); err != nil {
			return store.Checkpoint{}, fmt.Errorf("upsert metric %q: %w", m.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return store.Checkpoint{}, fmt.Errorf("commit checkpoint tx: %w", err)
	}
	return cp, nil
}

// Get loads a checkpoint by scoping key and name.
func (s *CheckpointStore) Get(ctx context.Context, scopeKey, name string) (store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, scope_key, name, cursor, recorded_at
		FROM %s
		WHERE scope_key = $1 AND name = $2;
	`, s.checkpointTable)

	var cp store.Checkpoint
	err := s.pool.QueryRow(ctx, query, scopeKey, name).Scan(
		&cp.ID,
		&cp.ScopeKey,
		&cp.Name,
		&cp.Cursor,
		&cp.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Checkpoint{}, store.ErrNotFound
		}
		return store.Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}
	return cp, nil
}
