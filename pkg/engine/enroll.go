package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/engageline/series/pkg/events"
	"github.com/engageline/series/pkg/models"
)

// EnrollOutcome classifies the result of one enrollment attempt.
type EnrollOutcome string

const (
	OutcomeEntered           EnrollOutcome = "entered"
	OutcomeAlreadyInSeries   EnrollOutcome = "already_in_series"
	OutcomeNotMatched        EnrollOutcome = "not_matched"
	OutcomeNotEligible       EnrollOutcome = "not_eligible"
	OutcomeSeriesNotActive   EnrollOutcome = "series_not_active"
	OutcomeWorkspaceMismatch EnrollOutcome = "workspace_mismatch"
)

type EnrollResult struct {
	Outcome    EnrollOutcome `json:"outcome"`
	ProgressID string        `json:"progress_id,omitempty"`
}

// Enroll attempts to enter a visitor into a series for the given trigger
// context, runs the execution loop on success and reconciles racing
// duplicate enrollments afterwards. Step failures never surface here; they
// are absorbed by the retry machinery.
func (e *Engine) Enroll(ctx context.Context, seriesID, visitorID string, trigger models.TriggerContext) (EnrollResult, error) {
	if !e.config.OrchestrationEnabled {
		return EnrollResult{}, ErrOrchestrationDisabled
	}

	logger := e.logger.With("series_id", seriesID, "visitor_id", visitorID, "trigger_source", trigger.Source)

	series, err := e.persistence.SeriesRepository().GetByID(ctx, seriesID)
	if err != nil {
		return EnrollResult{}, fmt.Errorf("load series: %w", err)
	}

	if !series.IsActive() {
		return EnrollResult{Outcome: OutcomeSeriesNotActive}, nil
	}

	if !series.AcceptsTrigger(trigger) {
		return EnrollResult{Outcome: OutcomeNotMatched}, nil
	}

	visitor, err := e.persistence.VisitorRepository().GetByID(ctx, visitorID)
	if err != nil {
		return EnrollResult{}, fmt.Errorf("load visitor: %w", err)
	}

	if visitor.WorkspaceID != series.WorkspaceID {
		return EnrollResult{Outcome: OutcomeWorkspaceMismatch}, nil
	}

	if series.EntryRule != nil {
		eligible, err := e.evaluator.Evaluate(ctx, series.EntryRule, visitor)
		if err != nil {
			return EnrollResult{}, fmt.Errorf("evaluate entry rule: %w", err)
		}

		if !eligible {
			return EnrollResult{Outcome: OutcomeNotEligible}, nil
		}
	}

	graph, err := e.loadGraph(ctx, seriesID)
	if err != nil {
		return EnrollResult{}, err
	}

	entries := graph.EntryBlocks()

	switch {
	case len(entries) == 0:
		return EnrollResult{}, ErrNoEntryBlock
	case len(entries) > 1:
		return EnrollResult{}, ErrMultipleEntryBlock
	}

	now := e.clock.Now().UTC()
	entryBlockID := entries[0].ID

	progress := &models.Progress{
		ID:             e.generateID(),
		WorkspaceID:    series.WorkspaceID,
		SeriesID:       seriesID,
		VisitorID:      visitorID,
		CurrentBlockID: &entryBlockID,
		Status:         models.ProgressStatusActive,
		EnteredAt:      now,
		UpdatedAt:      now,
	}

	if err := e.persistence.ProgressRepository().Save(ctx, progress); err != nil {
		return EnrollResult{}, fmt.Errorf("save progress: %w", err)
	}

	if err := e.persistence.HistoryRepository().Append(ctx, &models.HistoryEntry{
		ID:         e.generateID(),
		ProgressID: progress.ID,
		SeriesID:   seriesID,
		VisitorID:  visitorID,
		BlockID:    entryBlockID,
		Action:     models.HistoryActionEntered,
		Timestamp:  now,
	}); err != nil {
		return EnrollResult{}, fmt.Errorf("append history: %w", err)
	}

	if err := e.persistence.SeriesRepository().ApplyStatsDelta(ctx, seriesID, models.SeriesStats{Entered: 1, Active: 1}); err != nil {
		return EnrollResult{}, fmt.Errorf("apply stats delta: %w", err)
	}

	e.publish(ctx, seriesID, events.VisitorEnrolled{
		BaseEvent:     e.baseEvent(events.VisitorEnrolledEvent, series.WorkspaceID, seriesID),
		ProgressID:    progress.ID,
		VisitorID:     visitorID,
		TriggerSource: trigger.Source,
		EventName:     trigger.EventName,
	})

	logger.InfoContext(ctx, "Visitor enrolled", "progress_id", progress.ID)

	if err := e.Run(ctx, progress.ID); err != nil && !errors.Is(err, ErrSeriesNotActive) {
		logger.WarnContext(ctx, "Execution after enrollment did not finish", "error", err)
	}

	winnerID, err := e.reconcilePair(ctx, visitorID, seriesID)
	if err != nil {
		return EnrollResult{}, err
	}

	if winnerID != progress.ID {
		logger.InfoContext(ctx, "Enrollment lost reconciliation", "progress_id", progress.ID, "winner_id", winnerID)

		return EnrollResult{Outcome: OutcomeAlreadyInSeries, ProgressID: winnerID}, nil
	}

	return EnrollResult{Outcome: OutcomeEntered, ProgressID: progress.ID}, nil
}

// reconcilePair enforces at most one progress row per (visitor, series):
// the earliest row by (EnteredAt, ID) wins, later duplicates are deleted
// and their stats contribution reverted. Returns the winner's id.
func (e *Engine) reconcilePair(ctx context.Context, visitorID, seriesID string) (string, error) {
	rows, err := e.persistence.ProgressRepository().GetByVisitorAndSeries(ctx, visitorID, seriesID)
	if err != nil {
		return "", fmt.Errorf("reload pair: %w", err)
	}

	if len(rows) == 0 {
		return "", nil
	}

	winner := rows[0]
	for _, row := range rows[1:] {
		if row.Before(winner) {
			winner = row
		}
	}

	for _, row := range rows {
		if row.ID == winner.ID {
			continue
		}

		if err := e.persistence.ProgressRepository().Delete(ctx, row.ID); err != nil {
			return "", fmt.Errorf("delete duplicate progress %s: %w", row.ID, err)
		}

		revert := models.SeriesStats{Entered: -1}
		addStatusBucket(&revert, row.Status, -1)

		if err := e.persistence.SeriesRepository().ApplyStatsDelta(ctx, seriesID, revert); err != nil {
			return "", fmt.Errorf("revert stats for duplicate progress %s: %w", row.ID, err)
		}
	}

	return winner.ID, nil
}
