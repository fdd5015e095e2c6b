// Package run tracks one ingestion run end-to-end: start, item accounting,
// and exactly one terminal transition. The Manager is a scoped resource:
// acquire with Start, release with Finish or Fail on every exit path.
package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sociallens/social-ingest/internal/metrics"
	"github.com/sociallens/social-ingest/internal/store"
)

// ErrNotConfigured signals that no durable store is wired for run state.
// This is a startup configuration failure and is never retried.
var ErrNotConfigured = errors.New("run store is not configured")

// maxErrorMessageLen bounds the persisted error_message column.
const maxErrorMessageLen = 2000

// Token correlates logs and metrics with the run that produced them. It is
// passed explicitly instead of living in process-global state.
type Token struct {
	RunID      uuid.UUID
	SourceKind string
}

// Logger returns the base logger annotated with the run correlation fields.
func (t Token) Logger(base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return base.With(
		zap.String("run_id", t.RunID.String()),
		zap.String("source_kind", t.SourceKind),
	)
}

// StartParams carries the minimum metadata needed to open a run.
type StartParams struct {
	// SourceID identifies the account/timeline being ingested.
	SourceID string
	// WindowDays is the collection window recorded in the run context.
	WindowDays int
	// RunID is optional; when zero a new identifier is generated. Callers
	// supply it to correlate with an external scheduler.
	RunID uuid.UUID
	// Context holds extra structured metadata stored on the run record.
	Context map[string]any
}

// Manager owns the RunRecord for the duration of one run. Item increments
// arrive from arbitrary goroutines; the counter is atomic and flushed to the
// record only at Finish or Fail.
type Manager struct {
	repo       store.RunRepository
	sourceKind string
	logger     *zap.Logger
	now        func() time.Time

	mu        sync.Mutex
	active    bool
	token     Token
	sourceID  string
	startedAt time.Time
	items     atomic.Int64
}

// NewManager builds a Manager bound to a run repository. The repo may be nil;
// Start then fails with ErrNotConfigured.
func NewManager(repo store.RunRepository, sourceKind string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Manager{
		repo:       repo,
		sourceKind: sourceKind,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the manager clock. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Start opens the run: upserts the record as running with zero items and
// binds the correlation token. Exactly one of Finish or Fail must follow.
func (m *Manager) Start(ctx context.Context, params StartParams) (Token, error) {
	if m.repo == nil {
		return Token{}, ErrNotConfigured
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return Token{}, fmt.Errorf("run %s is already active", m.token.RunID)
	}

	runID := params.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}

	runContext := map[string]any{"window_days": params.WindowDays}
	for k, v := range params.Context {
		runContext[k] = v
	}

	startedAt := m.now()
	record := store.Run{
		ID:        runID,
		SourceID:  params.SourceID,
		StartedAt: startedAt,
		Status:    store.RunRunning,
		Context:   runContext,
	}
	if err := m.repo.UpsertStart(ctx, record); err != nil {
		return Token{}, fmt.Errorf("start run: %w", err)
	}

	m.active = true
	m.token = Token{RunID: runID, SourceKind: m.sourceKind}
	m.sourceID = params.SourceID
	m.startedAt = startedAt
	m.items.Store(0)

	m.token.Logger(m.logger).Info("run started",
		zap.String("source_id", params.SourceID),
		zap.Int("window_days", params.WindowDays),
	)
	return m.token, nil
}

// Token returns the correlation token of the active run, or false.
func (m *Manager) Token() (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.active
}

// IncrementItems accumulates the in-memory counter and emits the collection
// metric. Values below one are ignored. The RunRecord itself is only touched
// at Finish or Fail.
func (m *Manager) IncrementItems(n int) {
	if n < 1 {
		return
	}
	m.mu.Lock()
	active, token := m.active, m.token
	m.mu.Unlock()
	if !active {
		return
	}
	m.items.Add(int64(n))
	metrics.ObserveCollectedItems(token.SourceKind, token.RunID.String(), n)
}

// Items returns the current in-memory item count.
func (m *Manager) Items() int64 {
	return m.items.Load()
}

// Finish marks the run finished, writing the final item count and clearing
// any prior error message. Calling it without an active run is a no-op.
func (m *Manager) Finish(ctx context.Context) error {
	return m.complete(ctx, store.RunFinished, nil)
}

// Fail marks the run failed with the truncated message. The correlation
// binding is released and the duration observed even when the store write
// errors, so a run never stays bound after its owner gave up on it.
func (m *Manager) Fail(ctx context.Context, message string) error {
	truncated := truncate(message, maxErrorMessageLen)
	return m.complete(ctx, store.RunFailed, &truncated)
}

func (m *Manager) complete(ctx context.Context, status store.RunStatus, errMsg *string) error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return nil
	}
	token := m.token
	startedAt := m.startedAt
	items := m.items.Load()

	// Release is unconditional: the binding must not outlive the run even
	// when the terminal write fails.
	m.active = false
	m.mu.Unlock()

	finishedAt := m.now()
	metrics.ObserveRunDuration(token.SourceKind, token.RunID.String(), finishedAt.Sub(startedAt))
	if status == store.RunFailed {
		metrics.ObserveRunFailure(token.SourceKind, token.RunID.String())
	}

	log := token.Logger(m.logger)
	err := m.repo.Complete(ctx, token.RunID, finishedAt, status, items, errMsg)
	if err != nil {
		log.Error("terminal run write failed; run record may still read running",
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return fmt.Errorf("complete run %s: %w", token.RunID, err)
	}

	if status == store.RunFailed {
		log.Error("run failed",
			zap.Int64("items_collected", items),
			zap.Stringp("error_message", errMsg),
		)
	} else {
		log.Info("run finished", zap.Int64("items_collected", items))
	}
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
