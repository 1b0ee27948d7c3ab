package services

import (
	"context"
	"log/slog"
	"slices"

	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
)

var (
	// ErrProgressNotFound is returned when a progress row is not found.
	ErrProgressNotFound = persistence.ErrProgressNotFound
)

// QueryService serves the read side: stats, telemetry and progress
// inspection. It never mutates state.
type QueryService struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

// NewQueryService creates a new read-side service.
func NewQueryService(logger *slog.Logger, persistence persistence.Persistence) *QueryService {
	return &QueryService{
		persistence: persistence,
		logger:      logger.With("module", "query_service"),
	}
}

// Stats returns the series aggregate counters.
func (q *QueryService) Stats(ctx context.Context, workspaceID, seriesID string) (*models.SeriesStats, error) {
	series, err := q.visibleSeries(ctx, workspaceID, seriesID)
	if err != nil {
		return nil, err
	}

	stats := series.Stats

	return &stats, nil
}

// Telemetry returns the per-block counters of a series, ordered by block ID
// for stable output.
func (q *QueryService) Telemetry(ctx context.Context, workspaceID, seriesID string) ([]*models.BlockTelemetry, error) {
	if _, err := q.visibleSeries(ctx, workspaceID, seriesID); err != nil {
		return nil, err
	}

	rows, err := q.persistence.TelemetryRepository().GetBySeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(rows, func(a, b *models.BlockTelemetry) int {
		if a.BlockID < b.BlockID {
			return -1
		}

		if a.BlockID > b.BlockID {
			return 1
		}

		return 0
	})

	return rows, nil
}

// ProgressWithHistory bundles a progress row with its audit trail.
type ProgressWithHistory struct {
	Progress *models.Progress       `json:"progress"`
	History  []*models.HistoryEntry `json:"history"`
}

// GetProgress returns one progress row and its full history, oldest entry
// first.
func (q *QueryService) GetProgress(ctx context.Context, workspaceID, progressID string) (*ProgressWithHistory, error) {
	progress, err := q.persistence.ProgressRepository().GetByID(ctx, progressID)
	if err != nil {
		return nil, err
	}

	if progress.WorkspaceID != workspaceID {
		return nil, ErrProgressNotFound
	}

	history, err := q.persistence.HistoryRepository().GetByProgress(ctx, progressID)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(history, func(a, b *models.HistoryEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	return &ProgressWithHistory{Progress: progress, History: history}, nil
}

// ListProgress returns the series' progress rows for one status, ordered by
// entry time.
func (q *QueryService) ListProgress(ctx context.Context, workspaceID, seriesID string, status models.ProgressStatus) ([]*models.Progress, error) {
	if !validProgressStatus(status) {
		return nil, ErrInvalidStatus
	}

	if _, err := q.visibleSeries(ctx, workspaceID, seriesID); err != nil {
		return nil, err
	}

	rows, err := q.persistence.ProgressRepository().GetBySeriesAndStatus(ctx, seriesID, status)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(rows, func(a, b *models.Progress) int {
		return a.EnteredAt.Compare(b.EnteredAt)
	})

	return rows, nil
}

func (q *QueryService) visibleSeries(ctx context.Context, workspaceID, seriesID string) (*models.Series, error) {
	series, err := q.persistence.SeriesRepository().GetByID(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	if series.WorkspaceID != workspaceID {
		return nil, ErrSeriesNotFound
	}

	return series, nil
}

func validProgressStatus(status models.ProgressStatus) bool {
	switch status {
	case models.ProgressStatusActive, models.ProgressStatusWaiting, models.ProgressStatusCompleted,
		models.ProgressStatusExited, models.ProgressStatusGoalReached, models.ProgressStatusFailed:
		return true
	default:
		return false
	}
}
