package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/protocol"
)

type stepStatus int

const (
	stepCompleted stepStatus = iota
	stepWaiting
	stepFailed
)

const (
	resultBranchYes        = "branch_yes"
	resultBranchNo         = "branch_no"
	resultWaiting          = "waiting"
	resultDelivered        = "delivered"
	resultAlreadyDelivered = "already_delivered"
	resultTagApplied       = "tag_applied"
	resultTagRemoved       = "tag_removed"
	resultNoConversation   = "no_conversation"
)

// stepOutcome is the result of executing one block.
type stepOutcome struct {
	status      stepStatus
	nextBlockID string
	result      string
	err         string

	waitUntil     *time.Time
	waitEventName *string

	branchYes         bool
	branchNo          bool
	deliveryAttempted bool
	deliveryFailed    bool
}

func (s stepOutcome) historyAction() models.HistoryAction {
	if s.status == stepFailed {
		return models.HistoryActionFailed
	}

	return models.HistoryActionCompleted
}

func (s stepOutcome) telemetry() models.TelemetryDelta {
	delta := models.TelemetryDelta{LastResult: s.result}

	switch s.status {
	case stepFailed:
		delta.Failed = 1
		delta.LastResult = s.err
	default:
		delta.Completed = 1
	}

	if s.branchYes {
		delta.BranchYes = 1
	}

	if s.branchNo {
		delta.BranchNo = 1
	}

	if s.deliveryAttempted {
		delta.DeliveryAttempts = 1
	}

	if s.deliveryFailed {
		delta.DeliveryFailures = 1
	}

	return delta
}

func failedStep(format string, args ...any) stepOutcome {
	return stepOutcome{status: stepFailed, err: fmt.Sprintf(format, args...)}
}

// executeStep dispatches one block to its type-specific executor. It never
// mutates the progress row; the caller owns the state machine.
func (e *Engine) executeStep(ctx context.Context, series *models.Series, graph *models.SeriesGraph, block *models.Block, progress *models.Progress, visitor *models.Visitor) stepOutcome {
	switch {
	case block.Type == models.BlockTypeRule:
		return e.executeRule(ctx, graph, block, visitor)
	case block.Type == models.BlockTypeWait:
		return e.executeWait(graph, block)
	case block.Type.IsContent():
		return e.executeContent(ctx, series, graph, block, progress, visitor)
	case block.Type == models.BlockTypeTag:
		return e.executeTag(ctx, series, graph, block, visitor)
	default:
		return failedStep("unknown block type %q", block.Type)
	}
}

func (e *Engine) executeRule(ctx context.Context, graph *models.SeriesGraph, block *models.Block, visitor *models.Visitor) stepOutcome {
	config, ok := block.Config.(*models.RuleConfig)
	if !ok || config.Predicate == nil {
		return failedStep("rule block %s has no predicate", block.ID)
	}

	matched, err := e.evaluator.Evaluate(ctx, config.Predicate, visitor)
	if err != nil {
		return failedStep("evaluate rule block %s: %s", block.ID, err)
	}

	branch := models.ConditionNo
	outcome := stepOutcome{status: stepCompleted, result: resultBranchNo, branchNo: true}

	if matched {
		branch = models.ConditionYes
		outcome = stepOutcome{status: stepCompleted, result: resultBranchYes, branchYes: true}
	}

	outcome.nextBlockID = graph.NextBlockID(block.ID, branch)

	return outcome
}

func (e *Engine) executeWait(graph *models.SeriesGraph, block *models.Block) stepOutcome {
	config, ok := block.Config.(*models.WaitConfig)
	if !ok {
		return failedStep("wait block %s has no wait configuration", block.ID)
	}

	if err := config.Validate(block.Type); err != nil {
		return failedStep("wait block %s: %s", block.ID, err)
	}

	outcome := stepOutcome{
		status:      stepWaiting,
		result:      resultWaiting,
		nextBlockID: graph.NextBlockID(block.ID, models.ConditionDefault),
	}

	if config.Mode == models.WaitModeEvent {
		eventName := config.EventName
		outcome.waitEventName = &eventName

		return outcome
	}

	wakeAt, err := config.WakeTime(e.clock.Now().UTC())
	if err != nil {
		return failedStep("wait block %s: %s", block.ID, err)
	}

	outcome.waitUntil = &wakeAt

	return outcome
}

func (e *Engine) executeContent(ctx context.Context, series *models.Series, graph *models.SeriesGraph, block *models.Block, progress *models.Progress, visitor *models.Visitor) stepOutcome {
	next := graph.NextBlockID(block.ID, models.ConditionDefault)

	// A completed history entry for the (visitor, series, block) triple
	// means some invocation already delivered this block; duplicate
	// resumptions and racing enrollment rows advance without re-delivering.
	delivered, err := e.persistence.HistoryRepository().HasEntry(ctx, progress.VisitorID, progress.SeriesID, block.ID, models.HistoryActionCompleted)
	if err != nil {
		return failedStep("check delivery history for block %s: %s", block.ID, err)
	}

	if delivered {
		return stepOutcome{status: stepCompleted, result: resultAlreadyDelivered, nextBlockID: next}
	}

	adapter, ok := e.adapters[block.Type]
	if !ok {
		return failedStep("no content adapter registered for channel %q", block.Type)
	}

	result := adapter.AttemptDelivery(ctx, protocol.DeliveryContext{
		WorkspaceID: series.WorkspaceID,
		SeriesID:    series.ID,
		ProgressID:  progress.ID,
		Block:       block,
		Visitor:     visitor,
	})

	if result.Failed || !result.Attempted {
		outcome := failedStep("deliver block %s: %s", block.ID, result.Err)
		outcome.deliveryAttempted = result.Attempted
		outcome.deliveryFailed = true

		return outcome
	}

	return stepOutcome{
		status:            stepCompleted,
		result:            resultDelivered,
		nextBlockID:       next,
		deliveryAttempted: true,
	}
}

func (e *Engine) executeTag(ctx context.Context, series *models.Series, graph *models.SeriesGraph, block *models.Block, visitor *models.Visitor) stepOutcome {
	config, ok := block.Config.(*models.TagConfig)
	if !ok {
		return failedStep("tag block %s has no tag configuration", block.ID)
	}

	if err := config.Validate(block.Type); err != nil {
		return failedStep("tag block %s: %s", block.ID, err)
	}

	next := graph.NextBlockID(block.ID, models.ConditionDefault)

	tagID, err := e.tags.UpsertTag(ctx, series.WorkspaceID, config.NormalizedName())
	if err != nil {
		return failedStep("upsert tag %q: %s", config.NormalizedName(), err)
	}

	// Tagging applies to the visitor's latest conversation; a visitor who
	// never started one is a no-op, not an error.
	if visitor.LastConversationID == "" {
		return stepOutcome{status: stepCompleted, result: resultNoConversation, nextBlockID: next}
	}

	present := config.Action == models.TagActionAdd

	if err := e.tags.SetAssociation(ctx, visitor.LastConversationID, tagID, present); err != nil {
		return failedStep("set tag association %q: %s", config.NormalizedName(), err)
	}

	result := resultTagApplied
	if !present {
		result = resultTagRemoved
	}

	return stepOutcome{status: stepCompleted, result: result, nextBlockID: next}
}
