package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
)

// ProgressRepository handles progress cursor database operations.
type ProgressRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const progressColumns = `
	id
  , workspace_id
  , series_id
  , visitor_id
  , current_block_id
  , status
  , wait_until
  , wait_event_name
  , attempt_count
  , last_error
  , entered_at
  , updated_at
  , completed_at
  , exited_at
  , goal_reached_at
  , failed_at
  , deleted_at
`

func (r *ProgressRepository) scanProgress(row rowScanner) (*models.Progress, error) {
	var (
		progress  models.Progress
		lastError sql.NullString
	)

	err := row.Scan(
		&progress.ID,
		&progress.WorkspaceID,
		&progress.SeriesID,
		&progress.VisitorID,
		&progress.CurrentBlockID,
		&progress.Status,
		&progress.WaitUntil,
		&progress.WaitEventName,
		&progress.AttemptCount,
		&lastError,
		&progress.EnteredAt,
		&progress.UpdatedAt,
		&progress.CompletedAt,
		&progress.ExitedAt,
		&progress.GoalReachedAt,
		&progress.FailedAt,
		&progress.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	progress.LastError = lastError.String

	return &progress, nil
}

func (r *ProgressRepository) query(ctx context.Context, where string, args ...any) ([]*models.Progress, error) {
	query := "SELECT " + progressColumns + " FROM series_progress WHERE deleted_at IS NULL AND " + where +
		" ORDER BY entered_at, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	var result []*models.Progress

	for rows.Next() {
		progress, err := r.scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}

		result = append(result, progress)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating progress: %w", err)
	}

	return result, nil
}

func (r *ProgressRepository) GetByID(ctx context.Context, id string) (*models.Progress, error) {
	query := "SELECT " + progressColumns + " FROM series_progress WHERE id = $1 AND deleted_at IS NULL"

	progress, err := r.scanProgress(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewProgressError("GetByID", id, persistence.ErrProgressNotFound)
		}

		return nil, persistence.NewProgressError("GetByID", id, err)
	}

	return progress, nil
}

func (r *ProgressRepository) GetByVisitorAndSeries(ctx context.Context, visitorID, seriesID string) ([]*models.Progress, error) {
	return r.query(ctx, "visitor_id = $1 AND series_id = $2", visitorID, seriesID)
}

func (r *ProgressRepository) GetBySeriesAndStatus(ctx context.Context, seriesID string, status models.ProgressStatus) ([]*models.Progress, error) {
	return r.query(ctx, "series_id = $1 AND status = $2", seriesID, string(status))
}

func (r *ProgressRepository) GetWaitingByVisitor(ctx context.Context, visitorID string) ([]*models.Progress, error) {
	return r.query(ctx, "visitor_id = $1 AND status = $2", visitorID, string(models.ProgressStatusWaiting))
}

func (r *ProgressRepository) Save(ctx context.Context, progress *models.Progress) error {
	query := `
		INSERT INTO series_progress (` + progressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			current_block_id = EXCLUDED.current_block_id
		  , status = EXCLUDED.status
		  , wait_until = EXCLUDED.wait_until
		  , wait_event_name = EXCLUDED.wait_event_name
		  , attempt_count = EXCLUDED.attempt_count
		  , last_error = EXCLUDED.last_error
		  , updated_at = EXCLUDED.updated_at
		  , completed_at = EXCLUDED.completed_at
		  , exited_at = EXCLUDED.exited_at
		  , goal_reached_at = EXCLUDED.goal_reached_at
		  , failed_at = EXCLUDED.failed_at
		  , deleted_at = EXCLUDED.deleted_at
	`

	_, err := r.db.ExecContext(ctx, query,
		progress.ID,
		progress.WorkspaceID,
		progress.SeriesID,
		progress.VisitorID,
		progress.CurrentBlockID,
		string(progress.Status),
		progress.WaitUntil,
		progress.WaitEventName,
		progress.AttemptCount,
		nullString(progress.LastError),
		progress.EnteredAt,
		progress.UpdatedAt,
		progress.CompletedAt,
		progress.ExitedAt,
		progress.GoalReachedAt,
		progress.FailedAt,
		progress.DeletedAt,
	)
	if err != nil {
		return persistence.NewProgressError("Save", progress.ID, err)
	}

	return nil
}

func (r *ProgressRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewProgressError("Delete", id, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM series_history WHERE progress_id = $1", id); err != nil {
		return persistence.NewProgressError("Delete", id, err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM series_progress WHERE id = $1", id)
	if err != nil {
		return persistence.NewProgressError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewProgressError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewProgressError("Delete", id, persistence.ErrProgressNotFound)
	}

	if err := tx.Commit(); err != nil {
		return persistence.NewProgressError("Delete", id, err)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// HistoryRepository handles the append-only audit trail.
type HistoryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *HistoryRepository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	query := `
		INSERT INTO series_history (id, progress_id, series_id, visitor_id, block_id, action, result, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ProgressID,
		entry.SeriesID,
		entry.VisitorID,
		entry.BlockID,
		string(entry.Action),
		nullString(entry.Result),
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append history entry %s: %w", entry.ID, err)
	}

	return nil
}

func (r *HistoryRepository) GetByProgress(ctx context.Context, progressID string) ([]*models.HistoryEntry, error) {
	query := `
		SELECT id, progress_id, series_id, visitor_id, block_id, action, result, timestamp
		FROM series_history
		WHERE progress_id = $1
		ORDER BY timestamp, id
	`

	rows, err := r.db.QueryContext(ctx, query, progressID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	entries := make([]*models.HistoryEntry, 0)

	for rows.Next() {
		var (
			entry  models.HistoryEntry
			result sql.NullString
		)

		err := rows.Scan(&entry.ID, &entry.ProgressID, &entry.SeriesID, &entry.VisitorID, &entry.BlockID, &entry.Action, &result, &entry.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}

		entry.Result = result.String
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return entries, nil
}

func (r *HistoryRepository) HasEntry(ctx context.Context, visitorID, seriesID, blockID string, action models.HistoryAction) (bool, error) {
	var exists bool

	query := `
		SELECT EXISTS (
			SELECT 1 FROM series_history
			WHERE visitor_id = $1 AND series_id = $2 AND block_id = $3 AND action = $4
		)
	`

	err := r.db.QueryRowContext(ctx, query, visitorID, seriesID, blockID, string(action)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check history entry: %w", err)
	}

	return exists, nil
}
