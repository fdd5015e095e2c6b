// Package queue defines the producer interface for work-queue tasks handed
// to the external scheduler. The abstraction keeps the pipeline independent
// of the concrete broker (Redis list, GCP Pub/Sub, in-memory for tests).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Task is the self-contained message pushed onto the work queue. Delivery is
// FIFO-by-push but not exactly-once; the pipeline's idempotent upserts
// compensate for duplicates.
type Task struct {
	URL         string         `json:"url"`
	SourceID    string         `json:"source_id"`
	TargetID    string         `json:"target_id"`
	Meta        map[string]any `json:"meta"`
	ScheduledAt time.Time      `json:"scheduled_at"`
}

// Marshal serializes the task, stamping ScheduledAt with now when unset.
func (t Task) Marshal(now func() time.Time) ([]byte, error) {
	if t.ScheduledAt.IsZero() {
		t.ScheduledAt = now().UTC()
	}
	if t.Meta == nil {
		t.Meta = map[string]any{}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	return data, nil
}

// Producer pushes tasks for the external scheduler to consume.
type Producer interface {
	// Enqueue publishes one task.
	Enqueue(ctx context.Context, task Task) error

	// Close cleans up any client connections and resources.
	Close() error
}

// NoOpProducer is a producer that discards all tasks. It is useful for
// running the pipeline without a broker.
type NoOpProducer struct{}

// Enqueue for NoOpProducer does nothing and returns nil.
func (NoOpProducer) Enqueue(context.Context, Task) error { return nil }

// Close for NoOpProducer does nothing and returns nil.
func (NoOpProducer) Close() error { return nil }
