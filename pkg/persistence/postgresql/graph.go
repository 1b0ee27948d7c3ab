package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
)

// BlockRepository handles block-related database operations. The config
// union is stored as JSONB and decoded through the model's type dispatch.
type BlockRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *BlockRepository) scanBlock(row rowScanner) (*models.Block, error) {
	var (
		block  models.Block
		config []byte
	)

	err := row.Scan(
		&block.ID,
		&block.SeriesID,
		&block.Type,
		&config,
		&block.PositionX,
		&block.PositionY,
		&block.CreatedAt,
		&block.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	blockConfig, err := models.NewBlockConfig(block.Type)
	if err != nil {
		return nil, err
	}

	if len(config) > 0 {
		if err := json.Unmarshal(config, blockConfig); err != nil {
			return nil, fmt.Errorf("failed to decode %s block config: %w", block.Type, err)
		}
	}

	block.Config = blockConfig

	return &block, nil
}

func (r *BlockRepository) GetBySeries(ctx context.Context, seriesID string) ([]*models.Block, error) {
	query := `
		SELECT id, series_id, type, config, position_x, position_y, created_at, updated_at
		FROM series_blocks
		WHERE series_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	blocks := make([]*models.Block, 0)

	for rows.Next() {
		block, err := r.scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}

		blocks = append(blocks, block)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocks: %w", err)
	}

	return blocks, nil
}

func (r *BlockRepository) GetByID(ctx context.Context, seriesID, blockID string) (*models.Block, error) {
	query := `
		SELECT id, series_id, type, config, position_x, position_y, created_at, updated_at
		FROM series_blocks
		WHERE series_id = $1 AND id = $2
	`

	block, err := r.scanBlock(r.db.QueryRowContext(ctx, query, seriesID, blockID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrBlockNotFound
		}

		return nil, fmt.Errorf("failed to scan block: %w", err)
	}

	return block, nil
}

func (r *BlockRepository) Save(ctx context.Context, block *models.Block) error {
	config, err := json.Marshal(block.Config)
	if err != nil {
		return fmt.Errorf("failed to encode block config: %w", err)
	}

	query := `
		INSERT INTO series_blocks (id, series_id, type, config, position_x, position_y, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type
		  , config = EXCLUDED.config
		  , position_x = EXCLUDED.position_x
		  , position_y = EXCLUDED.position_y
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		block.ID,
		block.SeriesID,
		string(block.Type),
		config,
		block.PositionX,
		block.PositionY,
		block.CreatedAt,
		block.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save block %s: %w", block.ID, err)
	}

	return nil
}

func (r *BlockRepository) Delete(ctx context.Context, seriesID, blockID string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM series_blocks WHERE series_id = $1 AND id = $2", seriesID, blockID)
	if err != nil {
		return fmt.Errorf("failed to delete block %s: %w", blockID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrBlockNotFound
	}

	return nil
}

// ConnectionRepository handles connection-related database operations.
type ConnectionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ConnectionRepository) GetBySeries(ctx context.Context, seriesID string) ([]*models.Connection, error) {
	query := `
		SELECT id, series_id, from_block_id, to_block_id, condition, created_at
		FROM series_connections
		WHERE series_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	connections := make([]*models.Connection, 0)

	for rows.Next() {
		connection := &models.Connection{}

		err := rows.Scan(
			&connection.ID,
			&connection.SeriesID,
			&connection.FromBlockID,
			&connection.ToBlockID,
			&connection.Condition,
			&connection.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}

		connections = append(connections, connection)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return connections, nil
}

func (r *ConnectionRepository) Save(ctx context.Context, connection *models.Connection) error {
	query := `
		INSERT INTO series_connections (id, series_id, from_block_id, to_block_id, condition, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			from_block_id = EXCLUDED.from_block_id
		  , to_block_id = EXCLUDED.to_block_id
		  , condition = EXCLUDED.condition
	`

	_, err := r.db.ExecContext(ctx, query,
		connection.ID,
		connection.SeriesID,
		connection.FromBlockID,
		connection.ToBlockID,
		string(connection.Condition),
		connection.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save connection %s: %w", connection.ID, err)
	}

	return nil
}

func (r *ConnectionRepository) Delete(ctx context.Context, seriesID, connectionID string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM series_connections WHERE series_id = $1 AND id = $2", seriesID, connectionID)
	if err != nil {
		return fmt.Errorf("failed to delete connection %s: %w", connectionID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrConnectionNotFound
	}

	return nil
}
