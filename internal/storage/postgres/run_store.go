// Package postgres provides Postgres-backed persistence for run lifecycle
// state, checkpoints, and checkpoint metrics.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sociallens/social-ingest/internal/store"
)

// PoolIface is the subset of pgxpool.Pool the stores use. pgxmock satisfies
// it for tests.
type PoolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPool creates a pgx connection pool from the config.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// RunStore implements store.RunRepository on Postgres.
type RunStore struct {
	pool PoolIface
}

// NewRunStore constructs a RunStore from an existing pool.
func NewRunStore(pool PoolIface) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertStart inserts the run as running, or refreshes it if the caller
// supplied an already-known run id. Items start at zero either way.
func (s *RunStore) UpsertStart(ctx context.Context, run store.Run) error {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("marshal run context: %w", err)
	}
	query := `
		INSERT INTO runs (id, source_id, started_at, status, context, items_collected)
		VALUES ($1, $2, $3, $4, $5, 0)
		ON CONFLICT (id) DO UPDATE SET
			source_id = EXCLUDED.source_id,
			started_at = EXCLUDED.started_at,
			status = EXCLUDED.status,
			context = EXCLUDED.context;
	`
	if _, err := s.pool.Exec(ctx, query, run.ID, run.SourceID, run.StartedAt, store.RunRunning, contextJSON); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// Complete writes the terminal state of a run. A nil errMsg clears any
// previously stored message.
func (s *RunStore) Complete(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	items int64,
	errMsg *string,
) error {
	query := `
		UPDATE runs
		SET finished_at = $1, status = $2, items_collected = $3, error_message = $4
		WHERE id = $5;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, items, errMsg, id); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Get retrieves a single run by its id.
func (s *RunStore) Get(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, source_id, started_at, finished_at, status, context, items_collected, error_message
		FROM runs
		WHERE id = $1;
	`
	var (
		run         store.Run
		contextJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.SourceID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&contextJSON,
		&run.ItemsCollected,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &run.Context); err != nil {
			return store.Run{}, fmt.Errorf("unmarshal run context: %w", err)
		}
	}
	return run, nil
}

// List retrieves runs, optionally filtered by status, newest first.
func (s *RunStore) List(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `
		SELECT id, source_id, started_at, finished_at, status, context, items_collected, error_message
		FROM runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var (
			run         store.Run
			contextJSON []byte
		)
		err := rows.Scan(
			&run.ID,
			&run.SourceID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&contextJSON,
			&run.ItemsCollected,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &run.Context); err != nil {
				return nil, fmt.Errorf("unmarshal run context: %w", err)
			}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}
