// Package app initializes and holds long-lived application services, acting
// as a dependency injection container. It is built once at startup from the
// loaded configuration and passed to the commands that need it.
package app

import (
	"context"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sociallens/social-ingest/internal/config"
	"github.com/sociallens/social-ingest/internal/docstore"
	mongostore "github.com/sociallens/social-ingest/internal/docstore/mongo"
	"github.com/sociallens/social-ingest/internal/logging"
	"github.com/sociallens/social-ingest/internal/pipeline"
	"github.com/sociallens/social-ingest/internal/queue"
	pubsubqueue "github.com/sociallens/social-ingest/internal/queue/pubsub"
	redisqueue "github.com/sociallens/social-ingest/internal/queue/redis"
	"github.com/sociallens/social-ingest/internal/resilience"
	"github.com/sociallens/social-ingest/internal/run"
	"github.com/sociallens/social-ingest/internal/session"
	"github.com/sociallens/social-ingest/internal/storage"
	gcsstore "github.com/sociallens/social-ingest/internal/storage/gcs"
	pgstore "github.com/sociallens/social-ingest/internal/storage/postgres"
	"github.com/sociallens/social-ingest/internal/store"
)

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	pool        *pgxpool.Pool
	runs        store.RunRepository
	checkpoints store.CheckpointRepository
	docs        docstore.Store
	producer    queue.Producer
	archive     storage.Provider
	sessions    *session.Store
	proxies     *resilience.ProxyRotator
	retrier     *resilience.Retrier
	manager     *run.Manager
	coordinator *pipeline.Coordinator
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Runs returns the run repository, nil when no database is configured.
func (a *App) Runs() store.RunRepository { return a.runs }

// Checkpoints returns the checkpoint repository, nil when no database is
// configured.
func (a *App) Checkpoints() store.CheckpointRepository { return a.checkpoints }

// Docs returns the entity document store.
func (a *App) Docs() docstore.Store { return a.docs }

// Sessions returns the cookie snapshot store.
func (a *App) Sessions() *session.Store { return a.sessions }

// Proxies returns the proxy rotator.
func (a *App) Proxies() *resilience.ProxyRotator { return a.proxies }

// Retrier returns the shared transient-failure retrier.
func (a *App) Retrier() *resilience.Retrier { return a.retrier }

// Manager returns the run lifecycle manager.
func (a *App) Manager() *run.Manager { return a.manager }

// Coordinator returns the persistence coordinator.
func (a *App) Coordinator() *pipeline.Coordinator { return a.coordinator }

// New builds the App from configuration, failing fast when any configured
// service cannot be reached. Optional services (queue, archive, database,
// document store) fall back to no-op implementations when unconfigured so
// dry runs work on a laptop.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, "social-ingest")
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &App{cfg: cfg, logger: logger}

	if err := a.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := a.initDocStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initQueue(ctx); err != nil {
		return nil, err
	}
	if err := a.initArchive(ctx); err != nil {
		return nil, err
	}

	a.sessions, err = session.NewStore(cfg.Session.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}
	a.proxies = resilience.NewProxyRotator(cfg.Proxy.Endpoints)
	a.retrier = resilience.NewRetrier(resilience.BackoffPolicy{
		BaseDelay:   cfg.BackoffInitial(),
		MaxDelay:    cfg.BackoffMax(),
		MaxAttempts: cfg.Retry.MaxAttempts,
	})

	a.manager = run.NewManager(a.runs, cfg.Source.Kind, logger)
	a.coordinator, err = pipeline.New(
		a.docs,
		a.checkpoints,
		a.manager,
		a.producer,
		a.archive,
		pipeline.Config{
			ArchivePrefix:       cfg.Archive.Prefix,
			EnqueueCommentTasks: cfg.Pipeline.EnqueueCommentTasks,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	logger.Info("application services initialized",
		zap.String("source_kind", cfg.Source.Kind),
		zap.Bool("database", a.runs != nil),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
	)
	return a, nil
}

func (a *App) initDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no database configured; run state will not be persisted")
		return nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		MaxConns: int32(a.cfg.DB.MaxConns),
	})
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool

	runs, err := pgstore.NewRunStore(pool)
	if err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	checkpoints, err := pgstore.NewCheckpointStore(pool, pgstore.CheckpointStoreConfig{
		CheckpointTable: a.cfg.DB.CheckpointTable,
		MetricTable:     a.cfg.DB.MetricTable,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("init checkpoint store: %w", err)
	}
	a.runs = runs
	a.checkpoints = checkpoints
	return nil
}

func (a *App) initDocStore(ctx context.Context) error {
	if a.cfg.Mongo.URI == "" {
		a.logger.Info("no document store configured; entity documents will be discarded")
		a.docs = docstore.NoOpStore{}
		return nil
	}
	docs, err := mongostore.New(ctx, mongostore.Config{
		URI:      a.cfg.Mongo.URI,
		Database: a.cfg.Mongo.Database,
	})
	if err != nil {
		return fmt.Errorf("init mongo: %w", err)
	}
	a.docs = docs
	return nil
}

func (a *App) initQueue(ctx context.Context) error {
	switch a.cfg.Queue.Backend {
	case "redis":
		producer, err := redisqueue.New(ctx, redisqueue.Config{
			URL:       a.cfg.Queue.RedisURL,
			QueueName: a.cfg.Queue.QueueName,
		})
		if err != nil {
			return fmt.Errorf("init redis queue: %w", err)
		}
		a.producer = producer
	case "pubsub":
		producer, err := pubsubqueue.New(ctx, pubsubqueue.Config{
			ProjectID: a.cfg.Queue.ProjectID,
			TopicID:   a.cfg.Queue.TopicName,
		})
		if err != nil {
			return fmt.Errorf("init pubsub queue: %w", err)
		}
		a.producer = producer
	case "none", "":
		a.producer = queue.NoOpProducer{}
	default:
		return fmt.Errorf("unknown queue backend: %s", a.cfg.Queue.Backend)
	}
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	switch a.cfg.Archive.Backend {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		archive, err := gcsstore.New(client, gcsstore.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.archive = archive
	case "none", "":
		a.archive = nil
	default:
		return fmt.Errorf("unknown archive backend: %s", a.cfg.Archive.Backend)
	}
	return nil
}

// Close gracefully shuts down all services in the container.
func (a *App) Close(ctx context.Context) {
	if a.docs != nil {
		if err := a.docs.Close(ctx); err != nil {
			a.logger.Warn("error closing document store", zap.Error(err))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("error closing queue producer", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	// Best-effort flush; stderr sync failures are expected on some platforms.
	_ = a.logger.Sync()
}
