package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
)

var (
	// ErrBlockNotFound is returned when a block is not found.
	ErrBlockNotFound = persistence.ErrBlockNotFound
	// ErrConnectionNotFound is returned when a connection is not found.
	ErrConnectionNotFound = persistence.ErrConnectionNotFound
)

// GraphService edits the series graph: blocks and the connections between
// them. Graph edits are allowed in every status except archived; readiness
// validation, not the editor, decides whether the graph can run.
type GraphService struct {
	persistence persistence.Persistence
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewGraphService creates a new graph editing service.
func NewGraphService(logger *slog.Logger, persistence persistence.Persistence, clock clockwork.Clock) *GraphService {
	return &GraphService{
		persistence: persistence,
		clock:       clock,
		logger:      logger.With("module", "graph_service"),
	}
}

// CreateBlockRequest contains the fields for a new block. Config is the
// raw type-specific payload, decoded against the block type.
type CreateBlockRequest struct {
	Type      models.BlockType `json:"type" validate:"required"`
	Config    json.RawMessage  `json:"config"`
	PositionX int              `json:"position_x"`
	PositionY int              `json:"position_y"`
}

// CreateBlock adds a block to the series graph.
func (g *GraphService) CreateBlock(ctx context.Context, workspaceID, seriesID string, req CreateBlockRequest) (*models.Block, error) {
	series, err := g.editableSeries(ctx, workspaceID, seriesID)
	if err != nil {
		return nil, err
	}

	config, err := decodeBlockConfig(req.Type, req.Config)
	if err != nil {
		return nil, err
	}

	now := g.clock.Now().UTC()
	block := &models.Block{
		ID:        uuid.New().String(),
		SeriesID:  series.ID,
		Type:      req.Type,
		Config:    config,
		PositionX: req.PositionX,
		PositionY: req.PositionY,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := g.persistence.BlockRepository().Save(ctx, block); err != nil {
		return nil, fmt.Errorf("failed to save block: %w", err)
	}

	g.logger.InfoContext(ctx, "Block created", "series_id", seriesID, "block_id", block.ID, "type", block.Type)

	return block, nil
}

// UpdateBlockRequest carries the mutable block fields. The type is fixed at
// creation; a nil config leaves the payload untouched.
type UpdateBlockRequest struct {
	Config    json.RawMessage `json:"config,omitempty"`
	PositionX *int            `json:"position_x,omitempty"`
	PositionY *int            `json:"position_y,omitempty"`
}

// UpdateBlock edits a block's config or position.
func (g *GraphService) UpdateBlock(ctx context.Context, workspaceID, seriesID, blockID string, req UpdateBlockRequest) (*models.Block, error) {
	if _, err := g.editableSeries(ctx, workspaceID, seriesID); err != nil {
		return nil, err
	}

	block, err := g.persistence.BlockRepository().GetByID(ctx, seriesID, blockID)
	if err != nil {
		return nil, err
	}

	if len(req.Config) > 0 {
		config, err := decodeBlockConfig(block.Type, req.Config)
		if err != nil {
			return nil, err
		}

		block.Config = config
	}

	if req.PositionX != nil {
		block.PositionX = *req.PositionX
	}

	if req.PositionY != nil {
		block.PositionY = *req.PositionY
	}

	block.UpdatedAt = g.clock.Now().UTC()

	if err := g.persistence.BlockRepository().Save(ctx, block); err != nil {
		return nil, fmt.Errorf("failed to save block: %w", err)
	}

	return block, nil
}

// DeleteBlock removes a block and every connection touching it.
func (g *GraphService) DeleteBlock(ctx context.Context, workspaceID, seriesID, blockID string) error {
	if _, err := g.editableSeries(ctx, workspaceID, seriesID); err != nil {
		return err
	}

	if _, err := g.persistence.BlockRepository().GetByID(ctx, seriesID, blockID); err != nil {
		return err
	}

	connections, err := g.persistence.ConnectionRepository().GetBySeries(ctx, seriesID)
	if err != nil {
		return fmt.Errorf("failed to load connections for series %s: %w", seriesID, err)
	}

	for _, connection := range connections {
		if connection.FromBlockID != blockID && connection.ToBlockID != blockID {
			continue
		}

		if err := g.persistence.ConnectionRepository().Delete(ctx, seriesID, connection.ID); err != nil {
			return fmt.Errorf("failed to delete connection %s: %w", connection.ID, err)
		}
	}

	if err := g.persistence.BlockRepository().Delete(ctx, seriesID, blockID); err != nil {
		return fmt.Errorf("failed to delete block: %w", err)
	}

	g.logger.InfoContext(ctx, "Block deleted", "series_id", seriesID, "block_id", blockID)

	return nil
}

// ListBlocks returns every block of the series graph.
func (g *GraphService) ListBlocks(ctx context.Context, workspaceID, seriesID string) ([]*models.Block, error) {
	if _, err := g.visibleSeries(ctx, workspaceID, seriesID); err != nil {
		return nil, err
	}

	return g.persistence.BlockRepository().GetBySeries(ctx, seriesID)
}

// CreateConnectionRequest contains the fields for a new edge.
type CreateConnectionRequest struct {
	FromBlockID string           `json:"from_block_id" validate:"required"`
	ToBlockID   string           `json:"to_block_id"   validate:"required"`
	Condition   models.Condition `json:"condition"`
}

// CreateConnection adds an edge. Both endpoints must exist, the yes/no
// conditions are reserved for rule block sources, and everything else uses
// default or an unlabeled edge.
func (g *GraphService) CreateConnection(ctx context.Context, workspaceID, seriesID string, req CreateConnectionRequest) (*models.Connection, error) {
	series, err := g.editableSeries(ctx, workspaceID, seriesID)
	if err != nil {
		return nil, err
	}

	from, err := g.persistence.BlockRepository().GetByID(ctx, seriesID, req.FromBlockID)
	if err != nil {
		return nil, fmt.Errorf("%w: source block %s: %w", ErrInvalidConnectionData, req.FromBlockID, err)
	}

	if _, err := g.persistence.BlockRepository().GetByID(ctx, seriesID, req.ToBlockID); err != nil {
		return nil, fmt.Errorf("%w: target block %s: %w", ErrInvalidConnectionData, req.ToBlockID, err)
	}

	if err := validateCondition(from, req.Condition); err != nil {
		return nil, err
	}

	connection := &models.Connection{
		ID:          uuid.New().String(),
		SeriesID:    series.ID,
		FromBlockID: req.FromBlockID,
		ToBlockID:   req.ToBlockID,
		Condition:   req.Condition,
		CreatedAt:   g.clock.Now().UTC(),
	}

	if err := g.persistence.ConnectionRepository().Save(ctx, connection); err != nil {
		return nil, fmt.Errorf("failed to save connection: %w", err)
	}

	return connection, nil
}

// DeleteConnection removes an edge.
func (g *GraphService) DeleteConnection(ctx context.Context, workspaceID, seriesID, connectionID string) error {
	if _, err := g.editableSeries(ctx, workspaceID, seriesID); err != nil {
		return err
	}

	if err := g.persistence.ConnectionRepository().Delete(ctx, seriesID, connectionID); err != nil {
		return err
	}

	g.logger.InfoContext(ctx, "Connection deleted", "series_id", seriesID, "connection_id", connectionID)

	return nil
}

// ListConnections returns every edge of the series graph.
func (g *GraphService) ListConnections(ctx context.Context, workspaceID, seriesID string) ([]*models.Connection, error) {
	if _, err := g.visibleSeries(ctx, workspaceID, seriesID); err != nil {
		return nil, err
	}

	return g.persistence.ConnectionRepository().GetBySeries(ctx, seriesID)
}

func (g *GraphService) visibleSeries(ctx context.Context, workspaceID, seriesID string) (*models.Series, error) {
	series, err := g.persistence.SeriesRepository().GetByID(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	if series.WorkspaceID != workspaceID {
		return nil, ErrSeriesNotFound
	}

	return series, nil
}

func (g *GraphService) editableSeries(ctx context.Context, workspaceID, seriesID string) (*models.Series, error) {
	series, err := g.visibleSeries(ctx, workspaceID, seriesID)
	if err != nil {
		return nil, err
	}

	if series.Status == models.SeriesStatusArchived {
		return nil, ErrSeriesArchived
	}

	return series, nil
}

func decodeBlockConfig(blockType models.BlockType, raw json.RawMessage) (models.BlockConfig, error) {
	config, err := models.NewBlockConfig(blockType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBlockConfig, err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, config); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidBlockConfig, err)
		}
	}

	// Semantic validation is deferred to the readiness check so drafts can
	// hold half-finished blocks while they are being edited.
	return config, nil
}

func validateCondition(from *models.Block, condition models.Condition) error {
	switch condition {
	case models.ConditionYes, models.ConditionNo:
		if from.Type != models.BlockTypeRule {
			return fmt.Errorf("%w: %q edge from %s block %s", ErrBranchRequiresRule, condition, from.Type, from.ID)
		}

		return nil
	case models.ConditionDefault, "":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBranchCondition, condition)
	}
}
