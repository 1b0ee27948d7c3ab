package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/engageline/series/pkg/events"
	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/otelhelper"
	"github.com/engageline/series/pkg/persistence"
)

const (
	resultExitRulesMatched = "exit_rules_matched"
	resultGoalRulesMatched = "goal_rules_matched"

	tracerName = "series-engine"
)

// Run drives one progress row through the step executor until it parks on
// a wait, fails, or reaches a terminal state. The iteration count is
// bounded; hitting the bound fails the progress with a depth-exceeded
// error. Returns ErrSeriesNotActive when the series is paused or archived,
// leaving the row untouched and resumable.
func (e *Engine) Run(ctx context.Context, progressID string) error {
	ctx, span := otelhelper.StartSpan(ctx, otel.Tracer(tracerName), "engine.run",
		attribute.String(otelhelper.ProgressIDKey, progressID),
		attribute.String(otelhelper.WorkerIDKey, e.config.WorkerID),
	)
	defer span.End()

	err := e.run(ctx, progressID)
	if err != nil && !errors.Is(err, ErrSeriesNotActive) {
		otelhelper.SetError(span, err)
	}

	return err
}

func (e *Engine) run(ctx context.Context, progressID string) error {
	if !e.config.OrchestrationEnabled {
		return ErrOrchestrationDisabled
	}

	progress, err := e.persistence.ProgressRepository().GetByID(ctx, progressID)
	if err != nil {
		return fmt.Errorf("load progress: %w", err)
	}

	if progress.Status != models.ProgressStatusActive {
		// Terminal rows and parked waits are not runnable; ResumeDue wakes
		// waiting rows first.
		return nil
	}

	logger := e.logger.With("progress_id", progress.ID, "series_id", progress.SeriesID, "visitor_id", progress.VisitorID)

	visitor, err := e.persistence.VisitorRepository().GetByID(ctx, progress.VisitorID)
	if err != nil {
		if persistence.IsVisitorNotFound(err) {
			return e.failTerminal(ctx, progress, "", "visitor record no longer exists")
		}

		return fmt.Errorf("load visitor: %w", err)
	}

	graph, err := e.loadGraph(ctx, progress.SeriesID)
	if err != nil {
		return err
	}

	for depth := 0; depth < e.config.MaxDepth; depth++ {
		// Reload the series every iteration so a pause or archive lands
		// mid-flight instead of after the loop.
		series, err := e.persistence.SeriesRepository().GetByID(ctx, progress.SeriesID)
		if err != nil {
			if persistence.IsSeriesNotFound(err) {
				return e.failTerminal(ctx, progress, "", "series no longer exists")
			}

			return fmt.Errorf("load series: %w", err)
		}

		if !series.IsActive() {
			logger.InfoContext(ctx, "Series is not active, bailing out", "series_status", series.Status)

			return ErrSeriesNotActive
		}

		if progress.CurrentBlockID == nil {
			return e.transition(ctx, progress, models.ProgressStatusCompleted)
		}

		blockID := *progress.CurrentBlockID

		matched, result, err := e.checkExitAndGoal(ctx, series, visitor)
		if err != nil {
			return err
		}

		if matched != "" {
			e.recordSkip(ctx, progress, blockID, result)

			if err := e.transition(ctx, progress, matched); err != nil {
				return err
			}

			e.publishCompleted(ctx, progress)

			return nil
		}

		block := graph.Block(blockID)
		if block == nil {
			return e.failTerminal(ctx, progress, blockID, fmt.Sprintf("block %s no longer exists", blockID))
		}

		e.recordTelemetry(ctx, progress.SeriesID, blockID, models.TelemetryDelta{Entered: 1})

		step := e.executeStep(ctx, series, graph, block, progress, visitor)

		e.appendHistory(ctx, progress, blockID, step.historyAction(), step.result)
		e.recordTelemetry(ctx, progress.SeriesID, blockID, step.telemetry())

		switch step.status {
		case stepCompleted:
			progress.AttemptCount = 0
			progress.LastError = ""

			if step.nextBlockID == "" {
				if err := e.transition(ctx, progress, models.ProgressStatusCompleted); err != nil {
					return err
				}

				e.publishCompleted(ctx, progress)

				return nil
			}

			next := step.nextBlockID
			progress.CurrentBlockID = &next
			progress.UpdatedAt = e.clock.Now().UTC()

			if err := e.persistence.ProgressRepository().Save(ctx, progress); err != nil {
				return fmt.Errorf("save progress: %w", err)
			}
		case stepWaiting:
			return e.park(ctx, progress, step)
		case stepFailed:
			return e.recover(ctx, progress, blockID, step.err)
		}
	}

	err = e.failTerminal(ctx, progress, deref(progress.CurrentBlockID),
		fmt.Sprintf("execution depth exceeded after %d blocks", e.config.MaxDepth))
	if err != nil {
		return err
	}

	logger.ErrorContext(ctx, "Execution depth exceeded, likely a graph cycle", "max_depth", e.config.MaxDepth)

	return nil
}

// checkExitAndGoal evaluates the series exit rule then goal rule. A nil
// rule never matches. Returns the terminal status to transition to and the
// history result label, or empty when neither matched.
func (e *Engine) checkExitAndGoal(ctx context.Context, series *models.Series, visitor *models.Visitor) (models.ProgressStatus, string, error) {
	if series.ExitRule != nil {
		matched, err := e.evaluator.Evaluate(ctx, series.ExitRule, visitor)
		if err != nil {
			return "", "", fmt.Errorf("evaluate exit rule: %w", err)
		}

		if matched {
			return models.ProgressStatusExited, resultExitRulesMatched, nil
		}
	}

	if series.GoalRule != nil {
		matched, err := e.evaluator.Evaluate(ctx, series.GoalRule, visitor)
		if err != nil {
			return "", "", fmt.Errorf("evaluate goal rule: %w", err)
		}

		if matched {
			return models.ProgressStatusGoalReached, resultGoalRulesMatched, nil
		}
	}

	return "", "", nil
}

// park suspends the progress on a wait block outcome. The cursor already
// points past the wait; resumption continues at the next block.
func (e *Engine) park(ctx context.Context, progress *models.Progress, step stepOutcome) error {
	progress.Status = models.ProgressStatusWaiting
	progress.WaitUntil = step.waitUntil
	progress.WaitEventName = step.waitEventName

	if step.nextBlockID == "" {
		progress.CurrentBlockID = nil
	} else {
		next := step.nextBlockID
		progress.CurrentBlockID = &next
	}

	progress.UpdatedAt = e.clock.Now().UTC()

	if err := e.persistence.ProgressRepository().Save(ctx, progress); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}

	if err := e.applyStatsTransition(ctx, progress.SeriesID, models.ProgressStatusActive, models.ProgressStatusWaiting); err != nil {
		return err
	}

	if step.waitUntil != nil {
		e.publishResumeDue(ctx, progress, *step.waitUntil)
	}

	return nil
}

// recover applies the bounded-retry policy after a step failure.
func (e *Engine) recover(ctx context.Context, progress *models.Progress, blockID, stepErr string) error {
	progress.AttemptCount++
	progress.LastError = stepErr

	if progress.AttemptCount >= e.config.MaxAttempts {
		if err := e.failTerminal(ctx, progress, blockID, stepErr); err != nil {
			return err
		}

		return nil
	}

	backoff := e.config.RetryBaseDelay * time.Duration(progress.AttemptCount)
	wakeAt := e.clock.Now().UTC().Add(backoff)

	progress.Status = models.ProgressStatusWaiting
	progress.WaitUntil = &wakeAt
	progress.WaitEventName = nil
	progress.UpdatedAt = e.clock.Now().UTC()

	if err := e.persistence.ProgressRepository().Save(ctx, progress); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}

	if err := e.applyStatsTransition(ctx, progress.SeriesID, models.ProgressStatusActive, models.ProgressStatusWaiting); err != nil {
		return err
	}

	e.publishResumeDue(ctx, progress, wakeAt)

	e.logger.WarnContext(ctx, "Step failed, retry scheduled",
		"progress_id", progress.ID,
		"block_id", blockID,
		"attempt", progress.AttemptCount,
		"wake_at", wakeAt,
		"error", stepErr)

	return nil
}

// failTerminal moves the progress to the failed state, retaining the error
// for operator inspection, and publishes the failure event.
func (e *Engine) failTerminal(ctx context.Context, progress *models.Progress, blockID, message string) error {
	progress.LastError = message

	if err := e.transition(ctx, progress, models.ProgressStatusFailed); err != nil {
		return err
	}

	e.publish(ctx, progress.SeriesID, events.ProgressFailed{
		BaseEvent:    e.baseEvent(events.ProgressFailedEvent, progress.WorkspaceID, progress.SeriesID),
		ProgressID:   progress.ID,
		VisitorID:    progress.VisitorID,
		BlockID:      blockID,
		Error:        message,
		AttemptCount: progress.AttemptCount,
	})

	return nil
}

// transition moves the progress to a new status, stamps the matching
// timestamp and applies the stats delta.
func (e *Engine) transition(ctx context.Context, progress *models.Progress, to models.ProgressStatus) error {
	from := progress.Status
	now := e.clock.Now().UTC()

	progress.Status = to
	progress.WaitUntil = nil
	progress.WaitEventName = nil
	progress.UpdatedAt = now

	switch to {
	case models.ProgressStatusCompleted:
		progress.CompletedAt = &now
	case models.ProgressStatusExited:
		progress.ExitedAt = &now
	case models.ProgressStatusGoalReached:
		progress.GoalReachedAt = &now
	case models.ProgressStatusFailed:
		progress.FailedAt = &now
	}

	if err := e.persistence.ProgressRepository().Save(ctx, progress); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}

	return e.applyStatsTransition(ctx, progress.SeriesID, from, to)
}

func (e *Engine) applyStatsTransition(ctx context.Context, seriesID string, from, to models.ProgressStatus) error {
	if from == to {
		return nil
	}

	var delta models.SeriesStats

	addStatusBucket(&delta, from, -1)
	addStatusBucket(&delta, to, 1)

	if err := e.persistence.SeriesRepository().ApplyStatsDelta(ctx, seriesID, delta); err != nil {
		return fmt.Errorf("apply stats delta: %w", err)
	}

	return nil
}

func addStatusBucket(stats *models.SeriesStats, status models.ProgressStatus, amount int64) {
	switch status {
	case models.ProgressStatusActive:
		stats.Active += amount
	case models.ProgressStatusWaiting:
		stats.Waiting += amount
	case models.ProgressStatusCompleted:
		stats.Completed += amount
	case models.ProgressStatusExited:
		stats.Exited += amount
	case models.ProgressStatusGoalReached:
		stats.GoalReached += amount
	case models.ProgressStatusFailed:
		stats.Failed += amount
	}
}

// recordSkip writes the skipped history entry and telemetry for an exit or
// goal match on the current block.
func (e *Engine) recordSkip(ctx context.Context, progress *models.Progress, blockID, result string) {
	e.appendHistory(ctx, progress, blockID, models.HistoryActionSkipped, result)
	e.recordTelemetry(ctx, progress.SeriesID, blockID, models.TelemetryDelta{Skipped: 1, LastResult: result})
}

// appendHistory writes one audit entry. History failures are logged, never
// propagated; the audit trail must not break execution.
func (e *Engine) appendHistory(ctx context.Context, progress *models.Progress, blockID string, action models.HistoryAction, result string) {
	err := e.persistence.HistoryRepository().Append(ctx, &models.HistoryEntry{
		ID:         e.generateID(),
		ProgressID: progress.ID,
		SeriesID:   progress.SeriesID,
		VisitorID:  progress.VisitorID,
		BlockID:    blockID,
		Action:     action,
		Result:     result,
		Timestamp:  e.clock.Now().UTC(),
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to append history entry", "progress_id", progress.ID, "block_id", blockID, "error", err)
	}
}

// recordTelemetry folds a delta into the block's telemetry row. Telemetry
// never blocks or fails the execution path.
func (e *Engine) recordTelemetry(ctx context.Context, seriesID, blockID string, delta models.TelemetryDelta) {
	if err := e.persistence.TelemetryRepository().Increment(ctx, seriesID, blockID, delta, e.clock.Now().UTC()); err != nil {
		e.logger.ErrorContext(ctx, "Failed to record telemetry", "series_id", seriesID, "block_id", blockID, "error", err)
	}
}

func (e *Engine) publishCompleted(ctx context.Context, progress *models.Progress) {
	e.publish(ctx, progress.SeriesID, events.ProgressCompleted{
		BaseEvent:  e.baseEvent(events.ProgressCompletedEvent, progress.WorkspaceID, progress.SeriesID),
		ProgressID: progress.ID,
		VisitorID:  progress.VisitorID,
		Status:     progress.Status,
		DurationMs: e.clock.Now().UTC().Sub(progress.EnteredAt).Milliseconds(),
	})
}

func (e *Engine) publishResumeDue(ctx context.Context, progress *models.Progress, dueAt time.Time) {
	e.publish(ctx, progress.SeriesID, events.ProgressResumeDue{
		BaseEvent:  e.baseEvent(events.ProgressResumeDueEvent, progress.WorkspaceID, progress.SeriesID),
		ProgressID: progress.ID,
		VisitorID:  progress.VisitorID,
		DueAt:      dueAt,
	})
}

func (e *Engine) baseEvent(eventType events.EventType, workspaceID, seriesID string) events.BaseEvent {
	return events.BaseEvent{
		ID:          e.generateID(),
		Type:        eventType,
		Timestamp:   e.clock.Now().UTC(),
		WorkspaceID: workspaceID,
		SeriesID:    seriesID,
		WorkerID:    e.config.WorkerID,
	}
}

// publish sends a bus event, logging failures instead of propagating them:
// notification loss never aborts execution.
func (e *Engine) publish(ctx context.Context, key string, event eventbusEvent) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

type eventbusEvent interface {
	GetType() events.EventType
}

func deref(value *string) string {
	if value == nil {
		return ""
	}

	return *value
}
