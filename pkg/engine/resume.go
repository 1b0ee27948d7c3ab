package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
)

// ResumeDue wakes a time-waiting progress whose wake timestamp has passed
// and re-enters the execution loop. Early deliveries, terminal rows,
// non-waiting rows and event waits are no-ops, which makes duplicate
// at-least-once deliveries harmless.
func (e *Engine) ResumeDue(ctx context.Context, progressID string) error {
	if !e.config.OrchestrationEnabled {
		return ErrOrchestrationDisabled
	}

	progress, err := e.persistence.ProgressRepository().GetByID(ctx, progressID)
	if err != nil {
		if persistence.IsProgressNotFound(err) {
			// Reconciliation deleted the row after the task was scheduled.
			return nil
		}

		return fmt.Errorf("load progress: %w", err)
	}

	if progress.Status != models.ProgressStatusWaiting || progress.WaitUntil == nil {
		return nil
	}

	if e.clock.Now().UTC().Before(*progress.WaitUntil) {
		return nil
	}

	series, err := e.persistence.SeriesRepository().GetByID(ctx, progress.SeriesID)
	if err != nil {
		return fmt.Errorf("load series: %w", err)
	}

	if !series.IsActive() {
		// Leave the row waiting; reactivation makes it sweepable again.
		return ErrSeriesNotActive
	}

	return e.wake(ctx, progress)
}

// HandleVisitorEvent processes one inbound visitor occurrence: it wakes
// every event-waiting progress whose wait event matches, then attempts
// trigger-matched enrollment into the workspace's active series. Failures
// on individual series are logged and skipped so one broken series never
// stalls the event pipeline.
func (e *Engine) HandleVisitorEvent(ctx context.Context, workspaceID, visitorID string, trigger models.TriggerContext) error {
	if !e.config.OrchestrationEnabled {
		return ErrOrchestrationDisabled
	}

	logger := e.logger.With("workspace_id", workspaceID, "visitor_id", visitorID, "event_name", trigger.EventName)

	if trigger.Source == models.TriggerSourceEvent && trigger.EventName != "" {
		if err := e.wakeEventWaits(ctx, visitorID, trigger.EventName, logger); err != nil {
			return err
		}
	}

	candidates, err := e.persistence.SeriesRepository().GetByStatus(ctx, models.SeriesStatusActive)
	if err != nil {
		return fmt.Errorf("load active series: %w", err)
	}

	for _, series := range candidates {
		if series.WorkspaceID != workspaceID {
			continue
		}

		// Trigger-less series accept manual and swept enrollment only;
		// they never auto-enroll from the event stream.
		if len(series.Triggers) == 0 {
			continue
		}

		result, err := e.Enroll(ctx, series.ID, visitorID, trigger)
		if err != nil {
			logger.ErrorContext(ctx, "Enrollment attempt failed", "series_id", series.ID, "error", err)

			continue
		}

		if result.Outcome == OutcomeEntered {
			logger.InfoContext(ctx, "Visitor auto-enrolled", "series_id", series.ID, "progress_id", result.ProgressID)
		}
	}

	return nil
}

func (e *Engine) wakeEventWaits(ctx context.Context, visitorID, eventName string, logger *slog.Logger) error {
	waiting, err := e.persistence.ProgressRepository().GetWaitingByVisitor(ctx, visitorID)
	if err != nil {
		return fmt.Errorf("load waiting progress: %w", err)
	}

	for _, progress := range waiting {
		if progress.WaitEventName == nil || *progress.WaitEventName != eventName {
			continue
		}

		series, err := e.persistence.SeriesRepository().GetByID(ctx, progress.SeriesID)
		if err != nil || !series.IsActive() {
			continue
		}

		if err := e.wake(ctx, progress); err != nil && !errors.Is(err, ErrSeriesNotActive) {
			logger.ErrorContext(ctx, "Failed to wake progress", "progress_id", progress.ID, "error", err)
		}
	}

	return nil
}

// wake flips a waiting row back to active and re-enters the loop.
func (e *Engine) wake(ctx context.Context, progress *models.Progress) error {
	progress.Status = models.ProgressStatusActive
	progress.WaitUntil = nil
	progress.WaitEventName = nil
	progress.UpdatedAt = e.clock.Now().UTC()

	if err := e.persistence.ProgressRepository().Save(ctx, progress); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}

	if err := e.applyStatsTransition(ctx, progress.SeriesID, models.ProgressStatusWaiting, models.ProgressStatusActive); err != nil {
		return err
	}

	return e.Run(ctx, progress.ID)
}
