// Package redis provides a Redis list-backed task producer.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sociallens/social-ingest/internal/queue"
)

// Config captures the parameters for the Redis-backed queue.
type Config struct {
	URL       string
	QueueName string
}

// Producer pushes tasks onto a named Redis list. Consumers pop from the
// other end, giving FIFO-by-push ordering.
type Producer struct {
	client    *redis.Client
	queueName string
	now       func() time.Time
}

// New connects to Redis and pings it to ensure the connection is alive.
func New(ctx context.Context, cfg Config) (*Producer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("queue.redis.url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		closeErr := client.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("ping redis: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	queueName := cfg.QueueName
	if queueName == "" {
		queueName = "ingest:tasks"
	}
	return &Producer{
		client:    client,
		queueName: queueName,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Enqueue serializes the task and pushes it onto the list.
func (p *Producer) Enqueue(ctx context.Context, task queue.Task) error {
	payload, err := task.Marshal(p.now)
	if err != nil {
		return err
	}
	if err := p.client.LPush(ctx, p.queueName, payload).Err(); err != nil {
		return fmt.Errorf("lpush task: %w", err)
	}
	return nil
}

// Size returns the current queue depth.
func (p *Producer) Size(ctx context.Context) (int64, error) {
	n, err := p.client.LLen(ctx, p.queueName).Result()
	if err != nil {
		return 0, fmt.Errorf("llen queue: %w", err)
	}
	return n, nil
}

// Close closes the underlying client connection.
func (p *Producer) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
