// Package engine executes series graphs: it enrolls visitors, runs the
// step loop, applies the progress state machine and suspends/resumes on
// waits and retries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/engageline/series/pkg/eventbus"
	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
	"github.com/engageline/series/pkg/protocol"
)

const (
	DefaultMaxAttempts    = 3
	DefaultMaxDepth       = 50
	DefaultRetryBaseDelay = 5 * time.Minute
)

var (
	// ErrOrchestrationDisabled is returned while the runtime kill-switch
	// is engaged. Nothing is mutated.
	ErrOrchestrationDisabled = errors.New("orchestration is disabled")

	// ErrSeriesNotActive is returned when execution bails out because the
	// series was paused or archived. The progress row is left untouched
	// and resumes when the series is reactivated.
	ErrSeriesNotActive = errors.New("series is not active")

	ErrNoEntryBlock       = errors.New("series graph has no entry block")
	ErrMultipleEntryBlock = errors.New("series graph has multiple entry blocks")
)

// Config tunes the execution loop. Zero values fall back to the defaults.
type Config struct {
	// OrchestrationEnabled is the runtime kill-switch. False rejects every
	// enroll and run regardless of series readiness.
	OrchestrationEnabled bool

	// MaxAttempts bounds consecutive failures on one block before the
	// progress fails terminally.
	MaxAttempts int

	// MaxDepth bounds block executions per invocation, the runtime defense
	// against cycles in post-activation graph edits.
	MaxDepth int

	// RetryBaseDelay is multiplied by the attempt count to produce the
	// retry backoff.
	RetryBaseDelay time.Duration

	// WorkerID identifies this process in published events.
	WorkerID string
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}

	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}

	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}

	return c
}

// Engine is the orchestration core. All collaborators are injected; the
// engine itself holds no mutable state and is safe for concurrent use
// across distinct (visitor, series) pairs.
type Engine struct {
	persistence persistence.Persistence
	evaluator   protocol.RuleEvaluator
	adapters    map[models.BlockType]protocol.ContentAdapter
	tags        protocol.TagStore
	publisher   eventbus.EventPublisher
	clock       clockwork.Clock
	config      Config
	logger      *slog.Logger
}

func NewEngine(
	logger *slog.Logger,
	persistence persistence.Persistence,
	evaluator protocol.RuleEvaluator,
	adapters []protocol.ContentAdapter,
	tags protocol.TagStore,
	publisher eventbus.EventPublisher,
	clock clockwork.Clock,
	config Config,
) *Engine {
	byChannel := make(map[models.BlockType]protocol.ContentAdapter, len(adapters))
	for _, adapter := range adapters {
		byChannel[adapter.Channel()] = adapter
	}

	return &Engine{
		persistence: persistence,
		evaluator:   evaluator,
		adapters:    byChannel,
		tags:        tags,
		publisher:   publisher,
		clock:       clock,
		config:      config.withDefaults(),
		logger:      logger.With("module", "engine"),
	}
}

func (e *Engine) generateID() string {
	return uuid.New().String()
}

// loadGraph assembles the arena view for one series.
func (e *Engine) loadGraph(ctx context.Context, seriesID string) (*models.SeriesGraph, error) {
	blocks, err := e.persistence.BlockRepository().GetBySeries(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}

	connections, err := e.persistence.ConnectionRepository().GetBySeries(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}

	return models.NewSeriesGraph(blocks, connections), nil
}
