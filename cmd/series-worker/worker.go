package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/engageline/series/pkg/adapters"
	"github.com/engageline/series/pkg/engine"
	"github.com/engageline/series/pkg/eventbus"
	"github.com/engageline/series/pkg/otelhelper"
	"github.com/engageline/series/pkg/persistence"
	"github.com/engageline/series/pkg/protocol"
	"github.com/engageline/series/pkg/rules"
	"github.com/engageline/series/pkg/scheduler"
)

// Worker binds the engine and the scheduler to the bus and runs until
// interrupted.
type Worker struct {
	id        string
	logger    *slog.Logger
	scheduler *scheduler.Scheduler
}

func NewWorker(
	id string,
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	tags protocol.TagStore,
	sweepExpression string,
	orchestrationEnabled bool,
) (*Worker, error) {
	clock := clockwork.NewRealClock()

	eng := engine.NewEngine(
		logger,
		store,
		rules.NewEvaluator(),
		adapters.NewBusContentAdapters(eventBus),
		tags,
		eventBus,
		clock,
		engine.Config{OrchestrationEnabled: orchestrationEnabled, WorkerID: id},
	)

	sched, err := scheduler.NewScheduler(logger, store, eng, eventBus, clock, sweepExpression)
	if err != nil {
		return nil, err
	}

	return &Worker{
		id:        id,
		logger:    logger.With("module", "series-worker"),
		scheduler: sched,
	}, nil
}

func (w *Worker) Start(ctx context.Context) error {
	// Installs the global tracer provider; engine spans are no-ops until
	// this runs.
	if _, err := otelhelper.NewTracer(ctx, "series-worker"); err != nil {
		w.logger.WarnContext(ctx, "Tracer initialization failed, continuing without tracing", "error", err)
	}

	if err := w.scheduler.Start(ctx); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	w.logger.InfoContext(ctx, "Shutting down worker...")

	return w.scheduler.Stop(ctx)
}
