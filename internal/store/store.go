// Package store declares the records and interfaces for persisting run
// lifecycle state, checkpoints, and checkpoint metrics.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RunStatus mirrors the runs.status column.
type RunStatus string

// Run statuses persisted in runs.status.
const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunFailed   RunStatus = "failed"
)

// Run models one ingestion attempt in the runs table. A run is created as
// running and mutated exactly once into a terminal status.
type Run struct {
	// ID is the run identifier, caller-suppliable for external correlation.
	ID uuid.UUID
	// SourceID is the external account/timeline being ingested.
	SourceID string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run reaches a terminal status.
	FinishedAt *time.Time
	// Status is running/finished/failed.
	Status RunStatus
	// Context carries arbitrary structured run metadata (window, trigger).
	Context map[string]any
	// ItemsCollected is the final item count, written at finish/fail.
	ItemsCollected int64
	// ErrorMessage holds the truncated failure reason for failed runs.
	ErrorMessage *string
}

// Checkpoint is a named resumable progress marker. At most one row exists
// per (scope key, name); re-recording updates cursor and timestamp in place.
type Checkpoint struct {
	ID         int64
	ScopeKey   string
	Name       string
	Cursor     *string
	RecordedAt time.Time
}

// Metric is a named observation attached to a checkpoint. At most one row
// exists per (checkpoint id, name); the value is overwritten on repeat.
type Metric struct {
	ID           int64
	CheckpointID int64
	Name         string
	Value        float64
	Unit         *string
	RecordedAt   time.Time
}

// RunRepository persists run lifecycle transitions.
type RunRepository interface {
	// UpsertStart inserts (or idempotently refreshes) the run as running
	// with zero items collected.
	UpsertStart(ctx context.Context, run Run) error
	// Complete writes the terminal status, finish time, final item count,
	// and error message (nil clears any prior message).
	Complete(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, items int64, errMsg *string) error
	// Get loads a single run or returns ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (Run, error)
	// List returns runs filtered by optional status plus limit/offset.
	List(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}

// CheckpointRepository persists checkpoints and their metrics. A checkpoint
// and its metrics are applied atomically so a reader never observes a
// half-written pair.
type CheckpointRepository interface {
	// Record upserts the checkpoint keyed by (scopeKey, name) and each
	// metric keyed by (checkpoint id, metric name) in one transaction.
	Record(ctx context.Context, scopeKey, name string, cursor *string, metrics []Metric) (Checkpoint, error)
	// Get loads a checkpoint by its scoping key and name.
	Get(ctx context.Context, scopeKey, name string) (Checkpoint, error)
}
