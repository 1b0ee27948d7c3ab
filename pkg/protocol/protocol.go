// Package protocol defines the contracts between the orchestration engine
// and its external collaborators. The surrounding platform supplies real
// implementations; this repository ships reference ones for development
// and tests.
package protocol

import (
	"context"

	"github.com/engageline/series/pkg/models"
)

// RuleEvaluator evaluates an audience predicate against a visitor record.
// Used for rule blocks and the series entry/exit/goal conditions.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, tree *models.RuleTree, visitor *models.Visitor) (bool, error)
}

// DeliveryContext carries everything a channel adapter needs to attempt
// one content delivery.
type DeliveryContext struct {
	WorkspaceID string
	SeriesID    string
	ProgressID  string
	Block       *models.Block
	Visitor     *models.Visitor
}

// DeliveryResult reports the outcome of one delivery attempt. Attempted is
// false when prerequisites failed before the channel was invoked (recipient
// not contactable, channel not configured).
type DeliveryResult struct {
	Attempted bool
	Failed    bool
	Err       string
}

// ContentAdapter delivers one channel's content blocks. The adapter itself
// checks channel configuration and recipient contactability.
type ContentAdapter interface {
	Channel() models.BlockType
	AttemptDelivery(ctx context.Context, delivery DeliveryContext) DeliveryResult
}

// TagStore is the workspace tag catalogue collaborator.
type TagStore interface {
	// UpsertTag finds or creates the tag by normalized name and returns
	// its id.
	UpsertTag(ctx context.Context, workspaceID, normalizedName string) (string, error)

	// SetAssociation adds (present=true) or removes (present=false) the
	// tag-conversation association.
	SetAssociation(ctx context.Context, conversationID, tagID string, present bool) error
}
