// Package config loads and validates ingest service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Source   SourceConfig   `mapstructure:"source"`
	DB       DBConfig       `mapstructure:"db"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Session  SessionConfig  `mapstructure:"session"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP admin/metrics server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SourceConfig identifies which platform this deployment ingests from.
type SourceConfig struct {
	Kind       string `mapstructure:"kind"`
	WindowDays int    `mapstructure:"window_days"`
}

// DBConfig controls access to the relational run/checkpoint store.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	CheckpointTable string `mapstructure:"checkpoint_table"`
	MetricTable     string `mapstructure:"metric_table"`
}

// MongoConfig controls the document store holding entity documents.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// QueueConfig selects and configures the follow-up task queue backend.
type QueueConfig struct {
	Backend   string `mapstructure:"backend"` // redis, pubsub, or none
	RedisURL  string `mapstructure:"redis_url"`
	QueueName string `mapstructure:"queue_name"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SessionConfig locates the cookie snapshot directory.
type SessionConfig struct {
	Dir string `mapstructure:"dir"`
}

// ProxyConfig lists the outbound proxies rotated across requests.
type ProxyConfig struct {
	Endpoints []string `mapstructure:"endpoints"`
}

// RetryConfig governs transient-failure backoff.
type RetryConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// ArchiveConfig controls raw-payload blob archival.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"` // gcs or none
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PipelineConfig governs persistence coordinator behavior.
type PipelineConfig struct {
	EnqueueCommentTasks bool `mapstructure:"enqueue_comment_tasks"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("source.kind", "instagram")
	v.SetDefault("source.window_days", 7)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.checkpoint_table", "checkpoints")
	v.SetDefault("db.metric_table", "metrics")
	v.SetDefault("mongo.database", "socialdata")
	v.SetDefault("queue.backend", "none")
	v.SetDefault("queue.queue_name", "ingest:tasks")
	v.SetDefault("session.dir", "sessions")
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.backoff_initial_ms", 1000)
	v.SetDefault("retry.backoff_max_ms", 60000)
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("pipeline.enqueue_comment_tasks", true)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Source.Kind == "" {
		return fmt.Errorf("source.kind must be set")
	}
	if c.Source.WindowDays <= 0 {
		return fmt.Errorf("source.window_days must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.BackoffInitialMs <= 0 || c.Retry.BackoffMaxMs < c.Retry.BackoffInitialMs {
		return fmt.Errorf("retry backoff bounds must satisfy 0 < initial <= max")
	}
	switch c.Queue.Backend {
	case "none":
	case "redis":
		if c.Queue.RedisURL == "" {
			return fmt.Errorf("queue.redis_url must be set when queue.backend is redis")
		}
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.TopicName == "" {
			return fmt.Errorf("queue.project_id and queue.topic_name must be set when queue.backend is pubsub")
		}
	default:
		return fmt.Errorf("queue.backend must be one of redis, pubsub, none")
	}
	switch c.Archive.Backend {
	case "none":
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend must be one of gcs, none")
	}
	return nil
}

// BackoffInitial returns the initial retry delay as a duration.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.Retry.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling as a duration.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Retry.BackoffMaxMs) * time.Millisecond
}
