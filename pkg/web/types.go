// Package web provides HTTP request and response types for the series API.
package web

import (
	"encoding/json"
	"time"

	"github.com/engageline/series/pkg/models"
)

// CreateSeriesRequest represents the request body for creating a new series.
type CreateSeriesRequest struct {
	Name      string                `json:"name" validate:"required,min=3"`
	Triggers  []models.EntryTrigger `json:"triggers"`
	EntryRule *models.RuleTree      `json:"entry_rule,omitempty"`
	ExitRule  *models.RuleTree      `json:"exit_rule,omitempty"`
	GoalRule  *models.RuleTree      `json:"goal_rule,omitempty"`
}

// UpdateSeriesRequest represents the request body for updating a series.
// All fields are optional to support partial updates.
type UpdateSeriesRequest struct {
	Name     *string                `json:"name,omitempty" validate:"omitempty,min=3"`
	Triggers *[]models.EntryTrigger `json:"triggers,omitempty"`

	EntryRule      *models.RuleTree `json:"entry_rule,omitempty"`
	ExitRule       *models.RuleTree `json:"exit_rule,omitempty"`
	GoalRule       *models.RuleTree `json:"goal_rule,omitempty"`
	ClearEntryRule bool             `json:"clear_entry_rule,omitempty"`
	ClearExitRule  bool             `json:"clear_exit_rule,omitempty"`
	ClearGoalRule  bool             `json:"clear_goal_rule,omitempty"`
}

// CreateBlockRequest represents the request body for adding a graph block.
type CreateBlockRequest struct {
	Type      models.BlockType `json:"type" validate:"required"`
	Config    json.RawMessage  `json:"config"`
	PositionX int              `json:"position_x"`
	PositionY int              `json:"position_y"`
}

// UpdateBlockRequest represents the request body for editing a graph block.
type UpdateBlockRequest struct {
	Config    json.RawMessage `json:"config,omitempty"`
	PositionX *int            `json:"position_x,omitempty"`
	PositionY *int            `json:"position_y,omitempty"`
}

// CreateConnectionRequest represents the request body for adding a graph edge.
type CreateConnectionRequest struct {
	FromBlockID string           `json:"from_block_id" validate:"required"`
	ToBlockID   string           `json:"to_block_id"   validate:"required"`
	Condition   models.Condition `json:"condition"`
}

// EnrollRequest represents the request body for manual enrollment.
type EnrollRequest struct {
	VisitorID string `json:"visitor_id" validate:"required"`
}

// EnrollResponse reports the enrollment outcome.
type EnrollResponse struct {
	Outcome    string `json:"outcome"`
	ProgressID string `json:"progress_id,omitempty"`
}

// VisitorEventRequest represents the request body for ingesting a visitor
// occurrence: a named event or an attribute change.
type VisitorEventRequest struct {
	Source         models.TriggerSource `json:"source" validate:"required,oneof=event attribute"`
	EventName      string               `json:"event_name,omitempty"`
	AttributeKey   string               `json:"attribute_key,omitempty"`
	FromValue      *string              `json:"from_value,omitempty"`
	ToValue        *string              `json:"to_value,omitempty"`
	OccurredAt     *time.Time           `json:"occurred_at,omitempty"`
	ConversationID string               `json:"conversation_id,omitempty"`
}
