package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
)

// SeriesRepository handles series-related database operations.
type SeriesRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const seriesColumns = `
	id
  , workspace_id
  , name
  , status
  , triggers
  , entry_rule
  , exit_rule
  , goal_rule
  , stats
  , created_at
  , updated_at
  , activated_at
  , deleted_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SeriesRepository) scanSeries(row rowScanner) (*models.Series, error) {
	var (
		series    models.Series
		triggers  []byte
		entryRule []byte
		exitRule  []byte
		goalRule  []byte
		stats     []byte
	)

	err := row.Scan(
		&series.ID,
		&series.WorkspaceID,
		&series.Name,
		&series.Status,
		&triggers,
		&entryRule,
		&exitRule,
		&goalRule,
		&stats,
		&series.CreatedAt,
		&series.UpdatedAt,
		&series.ActivatedAt,
		&series.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, column := range []struct {
		data []byte
		dst  any
	}{
		{triggers, &series.Triggers},
		{entryRule, &series.EntryRule},
		{exitRule, &series.ExitRule},
		{goalRule, &series.GoalRule},
		{stats, &series.Stats},
	} {
		if len(column.data) == 0 {
			continue
		}

		if err := json.Unmarshal(column.data, column.dst); err != nil {
			return nil, fmt.Errorf("failed to decode series column: %w", err)
		}
	}

	return &series, nil
}

func (r *SeriesRepository) query(ctx context.Context, where string, args ...any) ([]*models.Series, error) {
	query := "SELECT " + seriesColumns + " FROM series WHERE deleted_at IS NULL" + where + " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	result := make([]*models.Series, 0)

	for rows.Next() {
		series, err := r.scanSeries(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan series: %w", err)
		}

		result = append(result, series)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating series: %w", err)
	}

	return result, nil
}

func (r *SeriesRepository) GetAll(ctx context.Context, workspaceID string) ([]*models.Series, error) {
	if workspaceID == "" {
		return r.query(ctx, "")
	}

	return r.query(ctx, " AND workspace_id = $1", workspaceID)
}

func (r *SeriesRepository) GetByStatus(ctx context.Context, status models.SeriesStatus) ([]*models.Series, error) {
	return r.query(ctx, " AND status = $1", string(status))
}

func (r *SeriesRepository) GetByID(ctx context.Context, id string) (*models.Series, error) {
	query := "SELECT " + seriesColumns + " FROM series WHERE id = $1 AND deleted_at IS NULL"

	series, err := r.scanSeries(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewSeriesError("GetByID", id, persistence.ErrSeriesNotFound)
		}

		return nil, persistence.NewSeriesError("GetByID", id, err)
	}

	return series, nil
}

func (r *SeriesRepository) Save(ctx context.Context, series *models.Series) error {
	triggers, err := json.Marshal(series.Triggers)
	if err != nil {
		return persistence.NewSeriesError("Save", series.ID, err)
	}

	stats, err := json.Marshal(series.Stats)
	if err != nil {
		return persistence.NewSeriesError("Save", series.ID, err)
	}

	entryRule, exitRule, goalRule, err := marshalRules(series)
	if err != nil {
		return persistence.NewSeriesError("Save", series.ID, err)
	}

	query := `
		INSERT INTO series (id, workspace_id, name, status, triggers, entry_rule, exit_rule, goal_rule, stats, created_at, updated_at, activated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id
		  , name = EXCLUDED.name
		  , status = EXCLUDED.status
		  , triggers = EXCLUDED.triggers
		  , entry_rule = EXCLUDED.entry_rule
		  , exit_rule = EXCLUDED.exit_rule
		  , goal_rule = EXCLUDED.goal_rule
		  , stats = EXCLUDED.stats
		  , updated_at = EXCLUDED.updated_at
		  , activated_at = EXCLUDED.activated_at
		  , deleted_at = EXCLUDED.deleted_at
	`

	_, err = r.db.ExecContext(ctx, query,
		series.ID,
		series.WorkspaceID,
		series.Name,
		string(series.Status),
		triggers,
		entryRule,
		exitRule,
		goalRule,
		stats,
		series.CreatedAt,
		series.UpdatedAt,
		series.ActivatedAt,
		series.DeletedAt,
	)
	if err != nil {
		return persistence.NewSeriesError("Save", series.ID, err)
	}

	return nil
}

func marshalRules(series *models.Series) (entry, exit, goal []byte, err error) {
	marshal := func(rule *models.RuleTree) ([]byte, error) {
		if rule == nil {
			return nil, nil
		}

		return json.Marshal(rule)
	}

	if entry, err = marshal(series.EntryRule); err != nil {
		return nil, nil, nil, err
	}

	if exit, err = marshal(series.ExitRule); err != nil {
		return nil, nil, nil, err
	}

	if goal, err = marshal(series.GoalRule); err != nil {
		return nil, nil, nil, err
	}

	return entry, exit, goal, nil
}

// ApplyStatsDelta folds the delta into the stats JSONB inside a transaction
// with a row lock, so concurrent transitions never lose increments.
func (r *SeriesRepository) ApplyStatsDelta(ctx context.Context, seriesID string, delta models.SeriesStats) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewSeriesError("ApplyStatsDelta", seriesID, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var statsData []byte

	row := tx.QueryRowContext(ctx, "SELECT stats FROM series WHERE id = $1 AND deleted_at IS NULL FOR UPDATE", seriesID)
	if err := row.Scan(&statsData); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewSeriesError("ApplyStatsDelta", seriesID, persistence.ErrSeriesNotFound)
		}

		return persistence.NewSeriesError("ApplyStatsDelta", seriesID, err)
	}

	var stats models.SeriesStats

	if len(statsData) > 0 {
		if err := json.Unmarshal(statsData, &stats); err != nil {
			return persistence.NewSeriesError("ApplyStatsDelta", seriesID, err)
		}
	}

	stats.Entered = clampCounter(stats.Entered + delta.Entered)
	stats.Active = clampCounter(stats.Active + delta.Active)
	stats.Waiting = clampCounter(stats.Waiting + delta.Waiting)
	stats.Completed = clampCounter(stats.Completed + delta.Completed)
	stats.Exited = clampCounter(stats.Exited + delta.Exited)
	stats.GoalReached = clampCounter(stats.GoalReached + delta.GoalReached)
	stats.Failed = clampCounter(stats.Failed + delta.Failed)

	updated, err := json.Marshal(stats)
	if err != nil {
		return persistence.NewSeriesError("ApplyStatsDelta", seriesID, err)
	}

	_, err = tx.ExecContext(ctx, "UPDATE series SET stats = $1, updated_at = $2 WHERE id = $3", updated, time.Now().UTC(), seriesID)
	if err != nil {
		return persistence.NewSeriesError("ApplyStatsDelta", seriesID, err)
	}

	if err := tx.Commit(); err != nil {
		return persistence.NewSeriesError("ApplyStatsDelta", seriesID, err)
	}

	return nil
}

func clampCounter(v int64) int64 {
	if v < 0 {
		return 0
	}

	return v
}

// Delete removes the series row; blocks, connections, progress and
// telemetry cascade through foreign keys, history through progress cleanup.
func (r *SeriesRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewSeriesError("Delete", id, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, "DELETE FROM series_history WHERE series_id = $1", id)
	if err != nil {
		return persistence.NewSeriesError("Delete", id, err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM series WHERE id = $1", id)
	if err != nil {
		return persistence.NewSeriesError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewSeriesError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewSeriesError("Delete", id, persistence.ErrSeriesNotFound)
	}

	if err := tx.Commit(); err != nil {
		return persistence.NewSeriesError("Delete", id, err)
	}

	return nil
}
