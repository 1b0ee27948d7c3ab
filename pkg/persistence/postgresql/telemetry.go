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

// TelemetryRepository handles per-block counter upserts.
type TelemetryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *TelemetryRepository) Increment(ctx context.Context, seriesID, blockID string, delta models.TelemetryDelta, now time.Time) error {
	query := `
		INSERT INTO series_block_telemetry
			(series_id, block_id, entered, completed, skipped, failed, delivery_attempts, delivery_failures, branch_yes, branch_no, last_result, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (series_id, block_id) DO UPDATE SET
			entered = series_block_telemetry.entered + EXCLUDED.entered
		  , completed = series_block_telemetry.completed + EXCLUDED.completed
		  , skipped = series_block_telemetry.skipped + EXCLUDED.skipped
		  , failed = series_block_telemetry.failed + EXCLUDED.failed
		  , delivery_attempts = series_block_telemetry.delivery_attempts + EXCLUDED.delivery_attempts
		  , delivery_failures = series_block_telemetry.delivery_failures + EXCLUDED.delivery_failures
		  , branch_yes = series_block_telemetry.branch_yes + EXCLUDED.branch_yes
		  , branch_no = series_block_telemetry.branch_no + EXCLUDED.branch_no
		  , last_result = COALESCE(NULLIF(EXCLUDED.last_result, ''), series_block_telemetry.last_result)
		  , updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		seriesID,
		blockID,
		delta.Entered,
		delta.Completed,
		delta.Skipped,
		delta.Failed,
		delta.DeliveryAttempts,
		delta.DeliveryFailures,
		delta.BranchYes,
		delta.BranchNo,
		delta.LastResult,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to increment telemetry for block %s: %w", blockID, err)
	}

	return nil
}

func (r *TelemetryRepository) GetBySeries(ctx context.Context, seriesID string) ([]*models.BlockTelemetry, error) {
	query := `
		SELECT series_id, block_id, entered, completed, skipped, failed,
		       delivery_attempts, delivery_failures, branch_yes, branch_no, last_result, updated_at
		FROM series_block_telemetry
		WHERE series_id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	result := make([]*models.BlockTelemetry, 0)

	for rows.Next() {
		var (
			row        models.BlockTelemetry
			lastResult sql.NullString
		)

		err := rows.Scan(
			&row.SeriesID,
			&row.BlockID,
			&row.Entered,
			&row.Completed,
			&row.Skipped,
			&row.Failed,
			&row.DeliveryAttempts,
			&row.DeliveryFailures,
			&row.BranchYes,
			&row.BranchNo,
			&lastResult,
			&row.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan telemetry: %w", err)
		}

		row.LastResult = lastResult.String
		result = append(result, &row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating telemetry: %w", err)
	}

	return result, nil
}

// VisitorRepository stores the engine's view of visitor records.
type VisitorRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *VisitorRepository) GetByID(ctx context.Context, id string) (*models.Visitor, error) {
	query := `
		SELECT id, workspace_id, email, push_token, attributes, last_conversation_id, created_at, updated_at
		FROM series_visitors
		WHERE id = $1
	`

	var (
		visitor          models.Visitor
		email            sql.NullString
		pushToken        sql.NullString
		attributes       []byte
		lastConversation sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&visitor.ID,
		&visitor.WorkspaceID,
		&email,
		&pushToken,
		&attributes,
		&lastConversation,
		&visitor.CreatedAt,
		&visitor.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrVisitorNotFound
		}

		return nil, fmt.Errorf("failed to scan visitor: %w", err)
	}

	visitor.Email = email.String
	visitor.PushToken = pushToken.String
	visitor.LastConversationID = lastConversation.String

	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &visitor.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode visitor attributes: %w", err)
		}
	}

	return &visitor, nil
}

func (r *VisitorRepository) Save(ctx context.Context, visitor *models.Visitor) error {
	attributes, err := json.Marshal(visitor.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode visitor attributes: %w", err)
	}

	query := `
		INSERT INTO series_visitors (id, workspace_id, email, push_token, attributes, last_conversation_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id
		  , email = EXCLUDED.email
		  , push_token = EXCLUDED.push_token
		  , attributes = EXCLUDED.attributes
		  , last_conversation_id = EXCLUDED.last_conversation_id
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		visitor.ID,
		visitor.WorkspaceID,
		nullString(visitor.Email),
		nullString(visitor.PushToken),
		attributes,
		nullString(visitor.LastConversationID),
		visitor.CreatedAt,
		visitor.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save visitor %s: %w", visitor.ID, err)
	}

	return nil
}
