// Package readiness validates that a series graph is structurally and
// semantically fit to activate. Blockers prevent activation; warnings
// surface likely mistakes without stopping it.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/rules"
)

// Issue codes, stable across API responses.
const (
	CodeEmptyGraph             = "SERIES_EMPTY_GRAPH"
	CodeNoEntryBlock           = "SERIES_NO_ENTRY_BLOCK"
	CodeMultipleEntryBlocks    = "SERIES_MULTIPLE_ENTRY_BLOCKS"
	CodeDanglingConnection     = "SERIES_DANGLING_CONNECTION"
	CodeUnreachableBlock       = "SERIES_UNREACHABLE_BLOCK"
	CodeRuleInvalidPredicate   = "SERIES_RULE_INVALID_PREDICATE"
	CodeRuleMissingBranch      = "SERIES_RULE_MISSING_BRANCH"
	CodeRuleExtraDefault       = "SERIES_RULE_EXTRA_DEFAULT"
	CodeInvalidBranchCondition = "SERIES_INVALID_BRANCH_CONDITION"
	CodeWaitInvalid            = "SERIES_WAIT_INVALID"
	CodeContentEmpty           = "SERIES_CONTENT_EMPTY"
	CodeTagInvalid             = "SERIES_TAG_INVALID"
	CodeDeadEnd                = "SERIES_DEAD_END"
	CodeNoEntryTriggers        = "SERIES_NO_ENTRY_TRIGGERS"
	CodeEmailChannelDisabled   = "SERIES_EMAIL_CHANNEL_DISABLED"
	CodeNoPushTokens           = "SERIES_NO_PUSH_TOKENS"
)

// Issue is one finding against the graph. BlockID is empty for
// series-level findings.
type Issue struct {
	Code    string `json:"code"`
	BlockID string `json:"block_id,omitempty"`
	Message string `json:"message"`
}

// Report is the outcome of a readiness check. IsReady is true exactly
// when Blockers is empty.
type Report struct {
	Blockers []Issue `json:"blockers"`
	Warnings []Issue `json:"warnings"`
	IsReady  bool    `json:"is_ready"`
}

// Validator checks series graphs against the activation rules.
type Validator struct {
	logger *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{logger: logger.With("module", "readiness")}
}

// Check runs every structural and per-block rule and returns the
// aggregated report. It never mutates its inputs.
func (v *Validator) Check(ctx context.Context, series *models.Series, graph *models.SeriesGraph, workspace models.WorkspaceInfo) Report {
	run := &checkRun{graph: graph}

	run.checkStructure(series)
	run.checkBlocks(workspace)

	report := run.report()

	v.logger.InfoContext(ctx, "Readiness check finished",
		"series_id", series.ID,
		"blockers", len(report.Blockers),
		"warnings", len(report.Warnings),
		"ready", report.IsReady)

	return report
}

type checkRun struct {
	graph    *models.SeriesGraph
	blockers []Issue
	warnings []Issue
}

func (r *checkRun) blocker(code, blockID, format string, args ...any) {
	r.blockers = append(r.blockers, Issue{Code: code, BlockID: blockID, Message: fmt.Sprintf(format, args...)})
}

func (r *checkRun) warning(code, blockID, format string, args ...any) {
	r.warnings = append(r.warnings, Issue{Code: code, BlockID: blockID, Message: fmt.Sprintf(format, args...)})
}

func (r *checkRun) checkStructure(series *models.Series) {
	if len(r.graph.Blocks) == 0 {
		r.blocker(CodeEmptyGraph, "", "series has no blocks")
		return
	}

	if len(series.Triggers) == 0 {
		r.warning(CodeNoEntryTriggers, "", "series has no entry triggers and can only be entered manually")
	}

	for _, connection := range r.graph.Connections {
		if r.graph.Block(connection.FromBlockID) == nil {
			r.blocker(CodeDanglingConnection, "", "connection %s references missing source block %s", connection.ID, connection.FromBlockID)
		}

		if r.graph.Block(connection.ToBlockID) == nil {
			r.blocker(CodeDanglingConnection, "", "connection %s references missing target block %s", connection.ID, connection.ToBlockID)
		}
	}

	entries := r.graph.EntryBlocks()

	switch len(entries) {
	case 1:
		reachable := r.graph.Reachable(entries[0].ID)

		for _, id := range sortedBlockIDs(r.graph) {
			if !reachable[id] {
				r.blocker(CodeUnreachableBlock, id, "block %s is not reachable from the entry block", id)
			}
		}
	case 0:
		r.blocker(CodeNoEntryBlock, "", "every block has an incoming connection, no entry point exists")
	default:
		for _, entry := range entries {
			r.blocker(CodeMultipleEntryBlocks, entry.ID, "block %s is one of %d entry points, expected one", entry.ID, len(entries))
		}
	}
}

func (r *checkRun) checkBlocks(workspace models.WorkspaceInfo) {
	for _, id := range sortedBlockIDs(r.graph) {
		block := r.graph.Block(id)

		r.checkBranchConditions(block)
		r.checkDeadEnd(block)

		switch block.Type {
		case models.BlockTypeRule:
			r.checkRuleBlock(block)
		case models.BlockTypeWait:
			r.checkWaitBlock(block)
		case models.BlockTypeTag:
			r.checkTagBlock(block)
		default:
			if block.Type.IsContent() {
				r.checkContentBlock(block, workspace)
			}
		}
	}
}

func (r *checkRun) checkBranchConditions(block *models.Block) {
	if block.Type == models.BlockTypeRule {
		return
	}

	for _, edge := range r.graph.Outgoing(block.ID) {
		if edge.Condition == models.ConditionYes || edge.Condition == models.ConditionNo {
			r.blocker(CodeInvalidBranchCondition, block.ID, "%s block %s has a %q branch, only rule blocks branch", block.Type, block.ID, edge.Condition)
		}
	}
}

func (r *checkRun) checkDeadEnd(block *models.Block) {
	if block.Type != models.BlockTypeWait && len(r.graph.Outgoing(block.ID)) == 0 {
		r.warning(CodeDeadEnd, block.ID, "%s block %s has no outgoing connection, the path ends here", block.Type, block.ID)
	}
}

func (r *checkRun) checkRuleBlock(block *models.Block) {
	config, ok := block.Config.(*models.RuleConfig)
	if !ok || config.Predicate == nil {
		r.blocker(CodeRuleInvalidPredicate, block.ID, "rule block %s has no predicate", block.ID)
	} else if err := rules.ValidatePredicate(config.Predicate); err != nil {
		r.blocker(CodeRuleInvalidPredicate, block.ID, "rule block %s predicate is invalid: %s", block.ID, err)
	}

	var yes, no, def int

	for _, edge := range r.graph.Outgoing(block.ID) {
		switch edge.Condition {
		case models.ConditionYes:
			yes++
		case models.ConditionNo:
			no++
		case models.ConditionDefault:
			def++
		}
	}

	if yes != 1 || no != 1 {
		r.blocker(CodeRuleMissingBranch, block.ID, "rule block %s has %d yes and %d no branches, expected one of each", block.ID, yes, no)
	}

	if def > 1 {
		r.blocker(CodeRuleExtraDefault, block.ID, "rule block %s has %d default branches, at most one is allowed", block.ID, def)
	}
}

func (r *checkRun) checkWaitBlock(block *models.Block) {
	config, ok := block.Config.(*models.WaitConfig)
	if !ok {
		r.blocker(CodeWaitInvalid, block.ID, "wait block %s has no wait configuration", block.ID)
		return
	}

	if err := config.Validate(block.Type); err != nil {
		r.blocker(CodeWaitInvalid, block.ID, "wait block %s: %s", block.ID, err)
	}
}

func (r *checkRun) checkContentBlock(block *models.Block, workspace models.WorkspaceInfo) {
	config, ok := block.Config.(*models.ContentConfig)
	if !ok {
		r.blocker(CodeContentEmpty, block.ID, "%s block %s has no content configuration", block.Type, block.ID)
		return
	}

	switch block.Type {
	case models.BlockTypeEmail:
		if err := config.Validate(block.Type); err != nil {
			r.blocker(CodeContentEmpty, block.ID, "email block %s: %s", block.ID, err)
		}

		if !workspace.EmailChannelEnabled {
			r.blocker(CodeEmailChannelDisabled, block.ID, "email block %s cannot deliver, the workspace email channel is disabled", block.ID)
		}
	case models.BlockTypePush:
		if err := config.Validate(block.Type); err != nil {
			r.blocker(CodeContentEmpty, block.ID, "push block %s: %s", block.ID, err)
		}

		if !workspace.HasPushTokens {
			r.warning(CodeNoPushTokens, block.ID, "push block %s will skip every visitor, no device tokens are registered", block.ID)
		}
	default:
		if config.Body == "" {
			r.warning(CodeContentEmpty, block.ID, "%s block %s has an empty body", block.Type, block.ID)
		}
	}
}

func (r *checkRun) checkTagBlock(block *models.Block) {
	config, ok := block.Config.(*models.TagConfig)
	if !ok {
		r.blocker(CodeTagInvalid, block.ID, "tag block %s has no tag configuration", block.ID)
		return
	}

	if err := config.Validate(block.Type); err != nil {
		r.blocker(CodeTagInvalid, block.ID, "tag block %s: %s", block.ID, err)
	}
}

func (r *checkRun) report() Report {
	return Report{
		Blockers: r.blockers,
		Warnings: r.warnings,
		IsReady:  len(r.blockers) == 0,
	}
}

func sortedBlockIDs(graph *models.SeriesGraph) []string {
	ids := make([]string, 0, len(graph.Blocks))
	for id := range graph.Blocks {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
