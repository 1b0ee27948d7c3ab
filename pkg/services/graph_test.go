package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engageline/series/pkg/models"
)

func newGraphFixture(t *testing.T) (*GraphService, *models.Series) {
	t.Helper()

	seriesService, graphService := newSeriesService(t, true)

	created, err := seriesService.Create(t.Context(), CreateSeriesRequest{
		WorkspaceID: "workspace-1",
		Name:        "Onboarding",
	})
	require.NoError(t, err)

	return graphService, created
}

func TestGraphService_CreateBlockDecodesConfig(t *testing.T) {
	graphs, series := newGraphFixture(t)

	block, err := graphs.CreateBlock(t.Context(), series.WorkspaceID, series.ID, CreateBlockRequest{
		Type:      models.BlockTypeWait,
		Config:    json.RawMessage(`{"mode": "duration", "duration": 2, "unit": "hours"}`),
		PositionX: 100,
		PositionY: 40,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, block.ID)
	assert.Equal(t, series.ID, block.SeriesID)

	config, ok := block.Config.(*models.WaitConfig)
	require.True(t, ok)
	assert.Equal(t, models.WaitModeDuration, config.Mode)
	assert.Equal(t, int64(2), config.Duration)
}

func TestGraphService_CreateBlockRejectsUnknownType(t *testing.T) {
	graphs, series := newGraphFixture(t)

	_, err := graphs.CreateBlock(t.Context(), series.WorkspaceID, series.ID, CreateBlockRequest{
		Type: models.BlockType("webhook"),
	})
	assert.ErrorIs(t, err, ErrInvalidBlockConfig)
	assert.True(t, IsValidationError(err))
}

func TestGraphService_CreateBlockAllowsIncompleteDraftConfig(t *testing.T) {
	graphs, series := newGraphFixture(t)

	// An email block with no subject yet is fine while drafting; readiness
	// blocks activation instead.
	block, err := graphs.CreateBlock(t.Context(), series.WorkspaceID, series.ID, CreateBlockRequest{
		Type:   models.BlockTypeEmail,
		Config: json.RawMessage(`{"body": "Hello"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, models.BlockTypeEmail, block.Type)
}

func TestGraphService_UpdateBlock(t *testing.T) {
	graphs, series := newGraphFixture(t)

	block, err := graphs.CreateBlock(t.Context(), series.WorkspaceID, series.ID, CreateBlockRequest{
		Type:   models.BlockTypeChat,
		Config: json.RawMessage(`{"body": "Hello"}`),
	})
	require.NoError(t, err)

	x := 250

	updated, err := graphs.UpdateBlock(t.Context(), series.WorkspaceID, series.ID, block.ID, UpdateBlockRequest{
		Config:    json.RawMessage(`{"body": "Hello again"}`),
		PositionX: &x,
	})
	require.NoError(t, err)

	config, ok := updated.Config.(*models.ContentConfig)
	require.True(t, ok)
	assert.Equal(t, "Hello again", config.Body)
	assert.Equal(t, 250, updated.PositionX)
}

func TestGraphService_ConnectionConditions(t *testing.T) {
	graphs, series := newGraphFixture(t)

	rule, err := graphs.CreateBlock(t.Context(), series.WorkspaceID, series.ID, CreateBlockRequest{
		Type:   models.BlockTypeRule,
		Config: json.RawMessage(`{"predicate": {"operator": "exists", "attribute": "plan"}}`),
	})
	require.NoError(t, err)

	chat, err := graphs.CreateBlock(t.Context(), series.WorkspaceID, series.ID, CreateBlockRequest{
		Type:   models.BlockTypeChat,
		Config: json.RawMessage(`{"body": "Hello"}`),
	})
	require.NoError(t, err)

	// yes out of a rule block is allowed.
	_, err = graphs.CreateConnection(t.Context(), series.WorkspaceID, series.ID, CreateConnectionRequest{
		FromBlockID: rule.ID,
		ToBlockID:   chat.ID,
		Condition:   models.ConditionYes,
	})
	require.NoError(t, err)

	// yes out of a chat block is not.
	_, err = graphs.CreateConnection(t.Context(), series.WorkspaceID, series.ID, CreateConnectionRequest{
		FromBlockID: chat.ID,
		ToBlockID:   rule.ID,
		Condition:   models.ConditionYes,
	})
	assert.ErrorIs(t, err, ErrBranchRequiresRule)

	// Unknown labels are rejected outright.
	_, err = graphs.CreateConnection(t.Context(), series.WorkspaceID, series.ID, CreateConnectionRequest{
		FromBlockID: chat.ID,
		ToBlockID:   rule.ID,
		Condition:   models.Condition("maybe"),
	})
	assert.ErrorIs(t, err, ErrInvalidBranchCondition)

	// Dangling endpoints are rejected.
	_, err = graphs.CreateConnection(t.Context(), series.WorkspaceID, series.ID, CreateConnectionRequest{
		FromBlockID: chat.ID,
		ToBlockID:   "missing-block",
	})
	assert.ErrorIs(t, err, ErrInvalidConnectionData)
}

func TestGraphService_DeleteBlockCascadesConnections(t *testing.T) {
	graphs, series := newGraphFixture(t)

	first, err := graphs.CreateBlock(t.Context(), series.WorkspaceID, series.ID, CreateBlockRequest{
		Type:   models.BlockTypeChat,
		Config: json.RawMessage(`{"body": "One"}`),
	})
	require.NoError(t, err)

	second, err := graphs.CreateBlock(t.Context(), series.WorkspaceID, series.ID, CreateBlockRequest{
		Type:   models.BlockTypeChat,
		Config: json.RawMessage(`{"body": "Two"}`),
	})
	require.NoError(t, err)

	third, err := graphs.CreateBlock(t.Context(), series.WorkspaceID, series.ID, CreateBlockRequest{
		Type:   models.BlockTypeChat,
		Config: json.RawMessage(`{"body": "Three"}`),
	})
	require.NoError(t, err)

	_, err = graphs.CreateConnection(t.Context(), series.WorkspaceID, series.ID, CreateConnectionRequest{
		FromBlockID: first.ID,
		ToBlockID:   second.ID,
	})
	require.NoError(t, err)

	survivor, err := graphs.CreateConnection(t.Context(), series.WorkspaceID, series.ID, CreateConnectionRequest{
		FromBlockID: first.ID,
		ToBlockID:   third.ID,
	})
	require.NoError(t, err)

	require.NoError(t, graphs.DeleteBlock(t.Context(), series.WorkspaceID, series.ID, second.ID))

	blocks, err := graphs.ListBlocks(t.Context(), series.WorkspaceID, series.ID)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)

	connections, err := graphs.ListConnections(t.Context(), series.WorkspaceID, series.ID)
	require.NoError(t, err)
	require.Len(t, connections, 1)
	assert.Equal(t, survivor.ID, connections[0].ID)
}

func TestGraphService_WorkspaceScoping(t *testing.T) {
	graphs, series := newGraphFixture(t)

	_, err := graphs.CreateBlock(t.Context(), "workspace-2", series.ID, CreateBlockRequest{
		Type:   models.BlockTypeChat,
		Config: json.RawMessage(`{"body": "Hello"}`),
	})
	assert.ErrorIs(t, err, ErrSeriesNotFound)

	_, err = graphs.ListBlocks(t.Context(), "workspace-2", series.ID)
	assert.ErrorIs(t, err, ErrSeriesNotFound)
}
