// Package memory contains an in-memory task producer for tests.
package memory

import (
	"context"
	"sync"

	"github.com/sociallens/social-ingest/internal/queue"
)

// Producer stores enqueued tasks for inspection.
type Producer struct {
	mu    sync.RWMutex
	tasks []queue.Task
}

// New returns a memory Producer.
func New() *Producer {
	return &Producer{}
}

// Enqueue records the task.
func (p *Producer) Enqueue(_ context.Context, task queue.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return nil
}

// Tasks returns the recorded tasks in push order.
func (p *Producer) Tasks() []queue.Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]queue.Task, len(p.tasks))
	copy(out, p.tasks)
	return out
}

// Close does nothing for the in-memory producer.
func (p *Producer) Close() error { return nil }
