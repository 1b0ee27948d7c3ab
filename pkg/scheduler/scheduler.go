// Package scheduler resumes suspended progress: it consumes resume tasks
// and visitor events from the bus and runs a periodic sweep over active
// series as the safety net for lost tasks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/engageline/series/pkg/engine"
	"github.com/engageline/series/pkg/eventbus"
	"github.com/engageline/series/pkg/events"
	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
)

// pollInterval is the granularity at which the sweep cadence is checked.
const pollInterval = 10 * time.Second

var ErrInvalidSweepExpression = errors.New("invalid sweep cron expression")

// Scheduler wires the two resumption paths to the engine. Start is
// idempotent; Stop drains the poller.
type Scheduler struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *engine.Engine
	bus         eventbus.EventBus
	clock       clockwork.Clock

	sweepSchedule cron.Schedule
	nextSweepAt   time.Time

	ticker  clockwork.Ticker
	done    chan struct{}
	started bool
	mu      sync.RWMutex
}

// NewScheduler parses the sweep cadence from a standard 5-field cron
// expression and returns a stopped scheduler.
func NewScheduler(
	logger *slog.Logger,
	store persistence.Persistence,
	eng *engine.Engine,
	bus eventbus.EventBus,
	clock clockwork.Clock,
	sweepExpression string,
) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	schedule, err := parser.Parse(sweepExpression)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidSweepExpression, sweepExpression, err)
	}

	return &Scheduler{
		logger:        logger.With("module", "scheduler"),
		persistence:   store,
		engine:        eng,
		bus:           bus,
		clock:         clock,
		sweepSchedule: schedule,
	}, nil
}

// Start registers the bus handlers, subscribes, and launches the sweep
// poller.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if err := s.bus.Handle(events.ProgressResumeDueEvent, s.handleResumeDue); err != nil {
		return err
	}

	if err := s.bus.Handle(events.VisitorEventReceivedEvent, s.handleVisitorEvent); err != nil {
		return err
	}

	if err := s.bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.nextSweepAt = s.sweepSchedule.Next(s.clock.Now().UTC())
	s.ticker = s.clock.NewTicker(pollInterval)
	s.done = make(chan struct{})
	s.started = true

	go s.poll(ctx, s.done, s.ticker)

	s.logger.InfoContext(ctx, "Scheduler started", "next_sweep_at", s.nextSweepAt)

	return nil
}

// Stop halts the poller. The bus subscription is owned by the bus and
// closed with it.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.ticker.Stop()

	// Closing instead of sending: the poller may be mid-sweep, and a
	// dropped signal would leave it running until ctx cancellation.
	close(s.done)

	s.started = false
	s.logger.InfoContext(ctx, "Scheduler stopped")

	return nil
}

// poll owns its done channel and ticker so a Stop/Start cycle never leaves
// two pollers sharing state.
func (s *Scheduler) poll(ctx context.Context, done <-chan struct{}, ticker clockwork.Ticker) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			now := s.clock.Now().UTC()

			s.mu.RLock()
			due := !now.Before(s.nextSweepAt)
			s.mu.RUnlock()

			if !due {
				continue
			}

			s.Sweep(ctx)

			s.mu.Lock()
			s.nextSweepAt = s.sweepSchedule.Next(now)
			s.mu.Unlock()
		}
	}
}

// handleResumeDue processes one durable resume task. A paused series keeps
// the task acked; the sweep picks the row up after reactivation.
func (s *Scheduler) handleResumeDue(ctx context.Context, event any) error {
	task, ok := event.(*events.ProgressResumeDue)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	err := s.engine.ResumeDue(ctx, task.ProgressID)
	if err != nil {
		if errors.Is(err, engine.ErrSeriesNotActive) || errors.Is(err, engine.ErrOrchestrationDisabled) {
			s.logger.InfoContext(ctx, "Resume task dropped", "progress_id", task.ProgressID, "reason", err)

			return nil
		}

		return err
	}

	return nil
}

// handleVisitorEvent feeds inbound visitor occurrences to the engine:
// event-wait wakeups plus trigger-matched enrollment.
func (s *Scheduler) handleVisitorEvent(ctx context.Context, event any) error {
	received, ok := event.(*events.VisitorEventReceived)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	trigger := models.TriggerContext{
		Source:       received.Source,
		EventName:    received.EventName,
		AttributeKey: received.AttributeKey,
		FromValue:    received.FromValue,
		ToValue:      received.ToValue,
	}

	err := s.engine.HandleVisitorEvent(ctx, received.WorkspaceID, received.VisitorID, trigger)
	if err != nil {
		if errors.Is(err, engine.ErrOrchestrationDisabled) {
			return nil
		}

		return err
	}

	return nil
}

// Sweep scans every active series for waiting rows whose wake time has
// passed and resumes them. It is the safety net behind the durable resume
// tasks and safe to invoke concurrently with them.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.clock.Now().UTC()

	active, err := s.persistence.SeriesRepository().GetByStatus(ctx, models.SeriesStatusActive)
	if err != nil {
		s.logger.ErrorContext(ctx, "Sweep failed to list active series", "error", err)

		return
	}

	resumed := 0

	for _, series := range active {
		waiting, err := s.persistence.ProgressRepository().GetBySeriesAndStatus(ctx, series.ID, models.ProgressStatusWaiting)
		if err != nil {
			s.logger.ErrorContext(ctx, "Sweep failed to list waiting progress", "series_id", series.ID, "error", err)

			continue
		}

		for _, progress := range waiting {
			if progress.WaitUntil == nil || progress.WaitUntil.After(now) {
				continue
			}

			if err := s.engine.ResumeDue(ctx, progress.ID); err != nil {
				if !errors.Is(err, engine.ErrSeriesNotActive) {
					s.logger.ErrorContext(ctx, "Sweep failed to resume progress", "progress_id", progress.ID, "error", err)
				}

				continue
			}

			resumed++
		}
	}

	if resumed > 0 {
		s.logger.InfoContext(ctx, "Sweep resumed overdue progress", "count", resumed)
	}
}
