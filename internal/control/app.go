// Package control wires the generation queue, providers, batch
// orchestrator and observability surfaces into one application.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/genqueue/internal/batch"
	"github.com/vietddude/genqueue/internal/core/config"
	"github.com/vietddude/genqueue/internal/deadletter"
	"github.com/vietddude/genqueue/internal/health"
	"github.com/vietddude/genqueue/internal/provider"
	"github.com/vietddude/genqueue/internal/queue"
	"github.com/vietddude/genqueue/internal/retry"
)

// App is the assembled orchestration core.
type App struct {
	cfg          *config.AppConfig
	queue        *queue.Queue
	orchestrator *batch.Orchestrator
	healthServer *health.Server
	journal      *deadletter.Journal
	log          *slog.Logger
}

// NewApp creates an App with all dependencies initialized. The
// extractor may be nil when sequential batches are not used.
func NewApp(cfg *config.AppConfig, extractor batch.Extractor) (*App, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	// 1. Provider clients
	mux := provider.NewMux()
	for _, p := range cfg.Providers {
		client := provider.NewHTTPClient(p.Name, p.URL, p.APIKey, p.Timeout)
		mux.Register(p.Name, client)
		slog.Info("Registered provider", "name", p.Name, "url", p.URL)
	}

	// 2. Retry policy: explicit config wins, otherwise by environment
	policy := retry.PolicyForEnvironment(cfg.Environment)
	if cfg.Queue.RetryPolicy != "" {
		policy = retry.PolicyByName(cfg.Queue.RetryPolicy)
	}
	slog.Info("Retry policy selected", "policy", policy.Name, "environment", cfg.Environment)

	// 3. Queue
	q := queue.New(queue.Config{
		MaxConcurrent:     cfg.Queue.MaxConcurrent,
		ProcessingTimeout: cfg.Queue.ProcessingTimeout,
		Policy:            policy,
		Breaker:           cfg.Queue.CircuitBreaker,
	}, mux)

	// 4. Optional dead-letter journal
	var journal *deadletter.Journal
	if cfg.Redis.URL != "" {
		var err error
		journal, err = deadletter.NewJournal(cfg.Redis, "genqueue")
		if err != nil {
			slog.Warn("Failed to connect to Redis, dead-letter journal disabled", "error", err)
		} else {
			q.SetDeadLetter(journal)
			slog.Info("Dead-letter journal enabled")
		}
	}

	// 5. Batch orchestrator and health server
	orchestrator := batch.New(q, extractor)
	healthServer := health.NewServer(q, cfg.Server.Port)

	return &App{
		cfg:          cfg,
		queue:        q,
		orchestrator: orchestrator,
		healthServer: healthServer,
		journal:      journal,
		log:          slog.Default(),
	}, nil
}

// Queue exposes the job queue.
func (a *App) Queue() *queue.Queue {
	return a.queue
}

// Orchestrator exposes the batch orchestrator.
func (a *App) Orchestrator() *batch.Orchestrator {
	return a.orchestrator
}

// Start starts the health server.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()
	a.log.Info("Generation queue started",
		"max_concurrent", a.cfg.Queue.MaxConcurrent, "port", a.cfg.Server.Port)
	return nil
}

// Stop drains the queue within the context's deadline and shuts the
// observability surfaces down.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping generation queue...")

	if err := a.queue.Shutdown(ctx); err != nil {
		a.log.Warn("Queue shutdown incomplete", "error", err)
	}

	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}

	return a.healthServer.Stop(ctx)
}
