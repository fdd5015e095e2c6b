// Package pipeline implements the persistence coordinator: normalized
// entities are idempotently upserted into the document store, progress is
// checkpointed in the relational store, and follow-up fetch tasks are pushed
// to the work queue. One bad record never aborts a run.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sociallens/social-ingest/internal/docstore"
	"github.com/sociallens/social-ingest/internal/entity"
	"github.com/sociallens/social-ingest/internal/metrics"
	"github.com/sociallens/social-ingest/internal/queue"
	"github.com/sociallens/social-ingest/internal/run"
	"github.com/sociallens/social-ingest/internal/storage"
	"github.com/sociallens/social-ingest/internal/store"
)

// Config controls Coordinator behavior.
type Config struct {
	// ArchivePrefix is the blob path prefix for raw payload snapshots.
	// Archival is skipped entirely when no archive provider is wired.
	ArchivePrefix string
	// EnqueueCommentTasks pushes a comments-fetch task for every persisted
	// post that carries a permalink.
	EnqueueCommentTasks bool
}

// Coordinator owns all writes to the document store and checkpoint store for
// one run. Safe to call concurrently for different identifiers; concurrent
// upserts to the same identifier resolve last-write-wins in the stores.
type Coordinator struct {
	docs        docstore.Store
	checkpoints store.CheckpointRepository
	runs        *run.Manager
	producer    queue.Producer
	archive     storage.Provider
	logger      *zap.Logger
	cfg         Config
}

// New constructs a Coordinator. The producer and archive are optional;
// checkpoints may be nil only when resumability is knowingly disabled.
func New(
	docs docstore.Store,
	checkpoints store.CheckpointRepository,
	runs *run.Manager,
	producer queue.Producer,
	archive storage.Provider,
	cfg Config,
	logger *zap.Logger,
) (*Coordinator, error) {
	if docs == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if runs == nil {
		return nil, fmt.Errorf("run manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Coordinator{
		docs:        docs,
		checkpoints: checkpoints,
		runs:        runs,
		producer:    producer,
		archive:     archive,
		logger:      logger,
		cfg:         cfg,
	}, nil
}

// Ingest normalizes one raw record and persists it. Per the failure policy,
// a single record's persistence failure is logged and skipped; the returned
// error is reserved for context cancellation, so callers can keep feeding
// records without inspecting per-record outcomes.
func (c *Coordinator) Ingest(ctx context.Context, raw entity.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log := c.runLogger()

	ent, err := entity.Normalize(raw)
	if err != nil {
		// Malformed input: diagnostic only, the run keeps going.
		log.Warn("record not normalized",
			zap.String("source_id", raw.SourceID),
			zap.Error(err),
		)
		return nil
	}

	if err := c.UpsertEntity(ctx, ent); err != nil {
		log.Error("entity persistence failed; skipping record",
			zap.String("entity_id", ent.ID),
			zap.String("collection", ent.Collection()),
			zap.Error(err),
		)
		metrics.ObservePersistenceError(ent.Collection())
		return nil
	}

	c.runs.IncrementItems(1)

	if ent.Cursor != "" {
		name := string(ent.Kind) + "_page"
		cursor := ent.Cursor
		c.RecordCheckpoint(ctx, ent.SourceID, name, &cursor, []store.Metric{
			{Name: "items_collected", Value: float64(c.runs.Items())},
		})
	}

	if c.cfg.EnqueueCommentTasks && ent.Kind == entity.KindPost {
		c.enqueueCommentTask(ctx, ent)
	}
	return nil
}

// UpsertEntity archives the raw payload (when configured) and upserts the
// entity document keyed by its derived id.
func (c *Coordinator) UpsertEntity(ctx context.Context, ent entity.Entity) error {
	collection := ent.Collection()
	if collection == "" {
		return fmt.Errorf("entity kind %q has no collection", ent.Kind)
	}
	if ent.ID == "" {
		return fmt.Errorf("entity id is empty")
	}

	doc := ent.Document()
	if c.archive != nil && len(ent.Raw) > 0 {
		if uri, err := c.archiveRaw(ctx, collection, ent); err != nil {
			// Archival is best-effort; the document write still proceeds.
			c.runLogger().Warn("raw payload archive failed",
				zap.String("entity_id", ent.ID),
				zap.Error(err),
			)
		} else {
			doc["raw_uri"] = uri
		}
	}

	if err := c.docs.Upsert(ctx, collection, ent.ID, doc); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", collection, ent.ID, err)
	}
	return nil
}

// RecordCheckpoint upserts the checkpoint and its metrics. Failures are
// non-fatal to the pipeline but surface as warnings, since they risk losing
// resumability.
func (c *Coordinator) RecordCheckpoint(ctx context.Context, scopeKey, name string, cursor *string, ms []store.Metric) {
	if c.checkpoints == nil {
		return
	}
	if _, err := c.checkpoints.Record(ctx, scopeKey, name, cursor, ms); err != nil {
		metrics.ObserveCheckpointWrite("error")
		c.runLogger().Warn("checkpoint write failed; resumability at risk",
			zap.String("scope_key", scopeKey),
			zap.String("checkpoint", name),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveCheckpointWrite("ok")
}

func (c *Coordinator) enqueueCommentTask(ctx context.Context, ent entity.Entity) {
	if c.producer == nil {
		return
	}
	permalink := permalinkOf(ent)
	if permalink == "" {
		return
	}
	task := queue.Task{
		URL:      permalink,
		SourceID: ent.SourceID,
		TargetID: ent.ID,
		Meta:     map[string]any{"kind": "comments"},
	}
	if err := c.producer.Enqueue(ctx, task); err != nil {
		c.runLogger().Warn("comment task enqueue failed",
			zap.String("entity_id", ent.ID),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) archiveRaw(ctx context.Context, collection string, ent entity.Entity) (string, error) {
	payload, err := json.Marshal(ent.Raw)
	if err != nil {
		return "", fmt.Errorf("marshal raw payload: %w", err)
	}
	prefix := strings.Trim(c.cfg.ArchivePrefix, "/")
	path := fmt.Sprintf("%s/%s.json", collection, ent.ID)
	if prefix != "" {
		path = prefix + "/" + path
	}
	uri, err := c.archive.PutObject(ctx, path, "application/json", strings.NewReader(string(payload)))
	if err != nil {
		return "", err
	}
	return uri, nil
}

func (c *Coordinator) runLogger() *zap.Logger {
	if token, ok := c.runs.Token(); ok {
		return token.Logger(c.logger)
	}
	return c.logger
}

func permalinkOf(ent entity.Entity) string {
	for _, key := range []string{"permalink", "url"} {
		if v, ok := ent.Raw[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
