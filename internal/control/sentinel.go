// Package control wires configuration, storage, the dead letter queue, the
// retry processor, and the admin server into a single service lifecycle.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/sentinel/internal/admin"
	"github.com/vietddude/sentinel/internal/core/config"
	"github.com/vietddude/sentinel/internal/core/worker"
	"github.com/vietddude/sentinel/internal/dlq"
	redisclient "github.com/vietddude/sentinel/internal/infra/redis"
	"github.com/vietddude/sentinel/internal/infra/storage"
	"github.com/vietddude/sentinel/internal/infra/storage/memory"
	"github.com/vietddude/sentinel/internal/infra/storage/postgres"
	"github.com/vietddude/sentinel/internal/metrics"
	"github.com/vietddude/sentinel/internal/recovery"
)

// Sentinel is the main application struct that manages the service lifecycle.
type Sentinel struct {
	cfg         *config.AppConfig
	queue       *dlq.Queue
	processor   *dlq.Processor
	breaker     *recovery.CircuitBreaker
	manager     *recovery.Manager
	server      *admin.Server
	pruner      *worker.Pruner
	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
}

// NewSentinel creates a new Sentinel instance with all dependencies
// initialized. reexec is the callback invoked to re-run queued work; nil
// installs a logging placeholder so the queue cycles tasks without side
// effects.
func NewSentinel(cfg *config.AppConfig, reexec dlq.ReexecuteFunc) (*Sentinel, error) {
	hook := metrics.NewHook()

	// 1. Initialize the task mirror. Postgres wins over Redis when both are
	// configured; neither falls back to the in-process mirror.
	var mirror storage.TaskMirror
	var db *postgres.DB
	var redisClient *redisclient.Client
	checks := map[string]admin.HealthCheck{}

	switch {
	case cfg.Database.URL != "":
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		mirror = postgres.NewTaskMirror(db)
		checks["database"] = db.Health
		slog.Info("Using PostgreSQL task mirror")

	case cfg.Redis.URL != "":
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		mirror = redisclient.NewTaskMirror(redisClient)
		checks["redis"] = redisClient.Health
		slog.Info("Using Redis task mirror")

	default:
		mirror = memory.NewTaskMirror()
		slog.Info("Using in-memory task mirror")
	}

	if reexec == nil {
		reexec = logReexecute
	}

	// 2. Queue and processor.
	queue := dlq.NewQueue(cfg.Queue, reexec, mirror, hook)
	processor := dlq.NewProcessor(queue, cfg.Processor)

	// 3. Recovery pipeline.
	breaker := recovery.NewCircuitBreaker(cfg.Breaker, cfg.Classes, hook)
	policies := recovery.NewPolicyTable()
	manager := recovery.NewManager(
		breaker,
		policies,
		queue,
		cfg.Integration.Mode,
		cfg.Backoff,
		hook,
	)

	server := admin.NewServer(queue, processor, cfg.Server.Port, checks)
	pruner := worker.NewPruner(cfg.Queue.RetentionPeriod, queue)

	return &Sentinel{
		cfg:         cfg,
		queue:       queue,
		processor:   processor,
		breaker:     breaker,
		manager:     manager,
		server:      server,
		pruner:      pruner,
		db:          db,
		redisClient: redisClient,
		log:         slog.Default(),
	}, nil
}

// Manager returns the retry executor, for embedding callers.
func (s *Sentinel) Manager() *recovery.Manager {
	return s.manager
}

// Queue returns the dead letter queue, for embedding callers.
func (s *Sentinel) Queue() *dlq.Queue {
	return s.queue
}

// Start starts the sentinel and all its components.
func (s *Sentinel) Start(ctx context.Context) error {
	go func() {
		if err := s.server.Start(); err != nil {
			s.log.Error("Admin server failed", "error", err)
		}
	}()

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	go s.pruner.Start(ctx)

	s.log.Info("Starting retry processor")
	return s.processor.Start(ctx)
}

// Stop stops the sentinel, draining in-flight retries.
func (s *Sentinel) Stop(ctx context.Context) error {
	s.log.Info("Stopping Sentinel...")

	if err := s.processor.Stop(ctx); err != nil {
		s.log.Warn("Processor drain incomplete", "error", err)
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}

	return s.server.Stop(ctx)
}

// logReexecute is the placeholder callback used when no executor is wired in.
// It logs the task and reports success so manual retries drain the queue.
func logReexecute(ctx context.Context, payload json.RawMessage, scopes []string) error {
	slog.Info("Re-executing task", "payload_bytes", len(payload), "scopes", scopes)
	return nil
}
