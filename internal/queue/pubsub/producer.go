// Package pubsub provides a GCP Pub/Sub-backed task producer, for
// deployments where the scheduler consumes from a subscription instead of a
// Redis list.
package pubsub

import (
	"context"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"

	"github.com/sociallens/social-ingest/internal/queue"
)

// Config captures the parameters required to publish to Pub/Sub.
type Config struct {
	ProjectID string
	TopicID   string
}

// Producer publishes tasks to a Pub/Sub topic. Ordering is weaker than the
// Redis list backend; consumers rely on the pipeline's idempotent upserts.
type Producer struct {
	client *gcppubsub.Client
	topic  *gcppubsub.Topic
	now    func() time.Time
}

// New creates a Pub/Sub client and verifies the topic exists. Authentication
// uses Application Default Credentials.
func New(ctx context.Context, cfg Config) (*Producer, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("queue.pubsub.project_id and topic_id are required")
	}
	client, err := gcppubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		closeErr := client.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("check topic %q: %w (close: %v)", cfg.TopicID, err, closeErr)
		}
		return nil, fmt.Errorf("check topic %q: %w", cfg.TopicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			return nil, fmt.Errorf("topic %q does not exist (close: %v)", cfg.TopicID, closeErr)
		}
		return nil, fmt.Errorf("topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}
	return &Producer{
		client: client,
		topic:  topic,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Enqueue publishes the task and waits for the server acknowledgement so
// failures surface to the caller instead of vanishing in a background batch.
func (p *Producer) Enqueue(ctx context.Context, task queue.Task) error {
	payload, err := task.Marshal(p.now)
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &gcppubsub.Message{Data: payload})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

// Close stops the topic publisher and closes the client connection.
func (p *Producer) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
