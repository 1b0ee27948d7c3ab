package services

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
	"github.com/engageline/series/pkg/persistence/file"
)

func newQueryFixture(t *testing.T) (*QueryService, persistence.Persistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	store := file.NewPersistence(t.TempDir())

	return NewQueryService(logger, store), store
}

func seedSeries(t *testing.T, store persistence.Persistence) *models.Series {
	t.Helper()

	series := &models.Series{
		ID:          "series-1",
		WorkspaceID: "workspace-1",
		Name:        "Onboarding",
		Status:      models.SeriesStatusActive,
		Stats:       models.SeriesStats{Entered: 4, Completed: 3, Waiting: 1},
		CreatedAt:   time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SeriesRepository().Save(t.Context(), series))

	return series
}

func TestQueryService_Stats(t *testing.T) {
	service, store := newQueryFixture(t)
	series := seedSeries(t, store)

	stats, err := service.Stats(t.Context(), "workspace-1", series.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Entered)
	assert.Equal(t, int64(3), stats.Completed)

	_, err = service.Stats(t.Context(), "workspace-2", series.ID)
	assert.ErrorIs(t, err, ErrSeriesNotFound)
}

func TestQueryService_TelemetryOrdering(t *testing.T) {
	service, store := newQueryFixture(t)
	series := seedSeries(t, store)

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.TelemetryRepository().Increment(t.Context(), series.ID, "block-b", models.TelemetryDelta{Entered: 2}, now))
	require.NoError(t, store.TelemetryRepository().Increment(t.Context(), series.ID, "block-a", models.TelemetryDelta{Entered: 5, Completed: 5}, now))

	rows, err := service.Telemetry(t.Context(), "workspace-1", series.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "block-a", rows[0].BlockID)
	assert.Equal(t, int64(5), rows[0].Completed)
	assert.Equal(t, "block-b", rows[1].BlockID)
}

func TestQueryService_GetProgressWithHistory(t *testing.T) {
	service, store := newQueryFixture(t)
	series := seedSeries(t, store)

	entered := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	progress := &models.Progress{
		ID:          "progress-1",
		WorkspaceID: "workspace-1",
		SeriesID:    series.ID,
		VisitorID:   "visitor-1",
		Status:      models.ProgressStatusCompleted,
		EnteredAt:   entered,
	}
	require.NoError(t, store.ProgressRepository().Save(t.Context(), progress))

	require.NoError(t, store.HistoryRepository().Append(t.Context(), &models.HistoryEntry{
		ID:         "entry-2",
		ProgressID: progress.ID,
		SeriesID:   series.ID,
		VisitorID:  "visitor-1",
		BlockID:    "block-a",
		Action:     models.HistoryActionCompleted,
		Timestamp:  entered.Add(time.Second),
	}))
	require.NoError(t, store.HistoryRepository().Append(t.Context(), &models.HistoryEntry{
		ID:         "entry-1",
		ProgressID: progress.ID,
		SeriesID:   series.ID,
		VisitorID:  "visitor-1",
		BlockID:    "block-a",
		Action:     models.HistoryActionEntered,
		Timestamp:  entered,
	}))

	result, err := service.GetProgress(t.Context(), "workspace-1", progress.ID)
	require.NoError(t, err)
	assert.Equal(t, progress.ID, result.Progress.ID)
	require.Len(t, result.History, 2)
	assert.Equal(t, models.HistoryActionEntered, result.History[0].Action)
	assert.Equal(t, models.HistoryActionCompleted, result.History[1].Action)

	_, err = service.GetProgress(t.Context(), "workspace-2", progress.ID)
	assert.ErrorIs(t, err, ErrProgressNotFound)
}

func TestQueryService_ListProgress(t *testing.T) {
	service, store := newQueryFixture(t)
	series := seedSeries(t, store)

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"progress-late", "progress-early"} {
		offset := time.Duration(1-i) * time.Hour
		require.NoError(t, store.ProgressRepository().Save(t.Context(), &models.Progress{
			ID:          id,
			WorkspaceID: "workspace-1",
			SeriesID:    series.ID,
			VisitorID:   "visitor-" + id,
			Status:      models.ProgressStatusWaiting,
			EnteredAt:   base.Add(offset),
		}))
	}

	rows, err := service.ListProgress(t.Context(), "workspace-1", series.ID, models.ProgressStatusWaiting)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "progress-early", rows[0].ID)
	assert.Equal(t, "progress-late", rows[1].ID)

	_, err = service.ListProgress(t.Context(), "workspace-1", series.ID, models.ProgressStatus("running"))
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
