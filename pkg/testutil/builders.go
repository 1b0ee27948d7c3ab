// Package testutil provides test data builders and fake collaborators.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/engageline/series/pkg/models"
)

// CreateTestSeries creates an active series with default values that can
// be overridden.
func CreateTestSeries(overrides ...func(*models.Series)) *models.Series {
	series := &models.Series{
		ID:          uuid.New().String(),
		WorkspaceID: "workspace-1",
		Name:        "Test Series",
		Status:      models.SeriesStatusActive,
		Triggers: []models.EntryTrigger{
			{Source: models.TriggerSourceManual},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	for _, override := range overrides {
		override(series)
	}

	return series
}

// WithStatus sets the series status.
func WithStatus(status models.SeriesStatus) func(*models.Series) {
	return func(s *models.Series) {
		s.Status = status
	}
}

// WithTriggers replaces the entry triggers.
func WithTriggers(triggers ...models.EntryTrigger) func(*models.Series) {
	return func(s *models.Series) {
		s.Triggers = triggers
	}
}

// WithEntryRule sets the entry audience predicate.
func WithEntryRule(rule *models.RuleTree) func(*models.Series) {
	return func(s *models.Series) {
		s.EntryRule = rule
	}
}

// WithExitRule sets the exit predicate.
func WithExitRule(rule *models.RuleTree) func(*models.Series) {
	return func(s *models.Series) {
		s.ExitRule = rule
	}
}

// WithGoalRule sets the goal predicate.
func WithGoalRule(rule *models.RuleTree) func(*models.Series) {
	return func(s *models.Series) {
		s.GoalRule = rule
	}
}

// CreateTestBlock creates a chat content block with default values that
// can be overridden.
func CreateTestBlock(seriesID string, overrides ...func(*models.Block)) *models.Block {
	block := &models.Block{
		ID:       uuid.New().String(),
		SeriesID: seriesID,
		Type:     models.BlockTypeChat,
		Config:   &models.ContentConfig{Body: "Hello there"},
	}

	for _, override := range overrides {
		override(block)
	}

	return block
}

// WithBlockID sets the block id.
func WithBlockID(id string) func(*models.Block) {
	return func(b *models.Block) {
		b.ID = id
	}
}

// AsRuleBlock turns the block into a rule block with the given predicate.
func AsRuleBlock(predicate *models.RuleTree) func(*models.Block) {
	return func(b *models.Block) {
		b.Type = models.BlockTypeRule
		b.Config = &models.RuleConfig{Predicate: predicate}
	}
}

// AsWaitBlock turns the block into a duration wait.
func AsWaitBlock(duration int64, unit models.WaitUnit) func(*models.Block) {
	return func(b *models.Block) {
		b.Type = models.BlockTypeWait
		b.Config = &models.WaitConfig{Mode: models.WaitModeDuration, Duration: duration, Unit: unit}
	}
}

// AsEventWaitBlock turns the block into an event wait.
func AsEventWaitBlock(eventName string) func(*models.Block) {
	return func(b *models.Block) {
		b.Type = models.BlockTypeWait
		b.Config = &models.WaitConfig{Mode: models.WaitModeEvent, EventName: eventName}
	}
}

// AsTagBlock turns the block into a tag block.
func AsTagBlock(action models.TagAction, name string) func(*models.Block) {
	return func(b *models.Block) {
		b.Type = models.BlockTypeTag
		b.Config = &models.TagConfig{Action: action, Name: name}
	}
}

// AsContentBlock turns the block into a content block of the given channel.
func AsContentBlock(channel models.BlockType, config *models.ContentConfig) func(*models.Block) {
	return func(b *models.Block) {
		b.Type = channel
		b.Config = config
	}
}

// CreateTestConnection connects two blocks.
func CreateTestConnection(seriesID, from, to string, condition models.Condition) *models.Connection {
	return &models.Connection{
		ID:          uuid.New().String(),
		SeriesID:    seriesID,
		FromBlockID: from,
		ToBlockID:   to,
		Condition:   condition,
	}
}

// CreateTestVisitor creates a contactable visitor with default values that
// can be overridden.
func CreateTestVisitor(overrides ...func(*models.Visitor)) *models.Visitor {
	visitor := &models.Visitor{
		ID:                 uuid.New().String(),
		WorkspaceID:        "workspace-1",
		Email:              "visitor@example.com",
		PushToken:          "token-1",
		Attributes:         map[string]any{"plan": "pro"},
		LastConversationID: "conversation-1",
	}

	for _, override := range overrides {
		override(visitor)
	}

	return visitor
}

// WithAttributes replaces the visitor attributes.
func WithAttributes(attrs map[string]any) func(*models.Visitor) {
	return func(v *models.Visitor) {
		v.Attributes = attrs
	}
}

// WithWorkspace sets the visitor workspace.
func WithWorkspace(workspaceID string) func(*models.Visitor) {
	return func(v *models.Visitor) {
		v.WorkspaceID = workspaceID
	}
}

// WithConversation sets the visitor's latest conversation id.
func WithConversation(conversationID string) func(*models.Visitor) {
	return func(v *models.Visitor) {
		v.LastConversationID = conversationID
	}
}
