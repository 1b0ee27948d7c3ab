// Package models defines the core domain models for series orchestration.
package models

import "time"

// SeriesStatus represents the lifecycle state of a series.
type SeriesStatus string

const (
	SeriesStatusDraft    SeriesStatus = "draft"    // Editable, not enrolling
	SeriesStatusActive   SeriesStatus = "active"   // Enrolling and executing
	SeriesStatusPaused   SeriesStatus = "paused"   // Execution suspended, resumable
	SeriesStatusArchived SeriesStatus = "archived" // Retired, never executes again
)

// SeriesStats holds the per-series aggregate counters. One bucket per
// progress status plus the all-time entered count. Buckets move together
// with progress transitions, so the live buckets always sum to the number
// of non-deleted progress rows.
type SeriesStats struct {
	Entered     int64 `json:"entered"`
	Active      int64 `json:"active"`
	Waiting     int64 `json:"waiting"`
	Completed   int64 `json:"completed"`
	Exited      int64 `json:"exited"`
	GoalReached int64 `json:"goal_reached"`
	Failed      int64 `json:"failed"`
}

// Series is a workspace-scoped campaign definition: the workflow graph plus
// the audience rules that govern entry, exit and goal tracking.
type Series struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id" validate:"required"`
	Name        string         `json:"name"         validate:"required,min=3"`
	Status      SeriesStatus   `json:"status"       validate:"required"`
	Triggers    []EntryTrigger `json:"triggers"`
	EntryRule   *RuleTree      `json:"entry_rule,omitempty"`
	ExitRule    *RuleTree      `json:"exit_rule,omitempty"`
	GoalRule    *RuleTree      `json:"goal_rule,omitempty"`
	Stats       SeriesStats    `json:"stats"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ActivatedAt *time.Time     `json:"activated_at,omitempty"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// IsActive reports whether the series may enroll and execute visitors.
func (s *Series) IsActive() bool {
	return s.Status == SeriesStatusActive && s.DeletedAt == nil
}

// TriggerSource identifies what kind of external signal a trigger reacts to.
type TriggerSource string

const (
	TriggerSourceEvent     TriggerSource = "event"     // A named visitor event fired
	TriggerSourceAttribute TriggerSource = "attribute" // A visitor attribute changed value
	TriggerSourceManual    TriggerSource = "manual"    // Operator-initiated enrollment
)

// EntryTrigger is an event or attribute-change pattern that permits
// automatic enrollment. Unset fields act as wildcards.
type EntryTrigger struct {
	Source       TriggerSource `json:"source" validate:"required,oneof=event attribute manual"`
	EventName    string        `json:"event_name,omitempty"`
	AttributeKey string        `json:"attribute_key,omitempty"`
	FromValue    *string       `json:"from_value,omitempty"`
	ToValue      *string       `json:"to_value,omitempty"`
}

// TriggerContext describes the signal behind one enrollment attempt.
type TriggerContext struct {
	Source       TriggerSource `json:"source"`
	EventName    string        `json:"event_name,omitempty"`
	AttributeKey string        `json:"attribute_key,omitempty"`
	FromValue    *string       `json:"from_value,omitempty"`
	ToValue      *string       `json:"to_value,omitempty"`
}

// Matches reports whether this trigger accepts the given context. The source
// must match exactly; the remaining fields only constrain the match when the
// trigger sets them.
func (t EntryTrigger) Matches(ctx TriggerContext) bool {
	if t.Source != ctx.Source {
		return false
	}

	switch t.Source {
	case TriggerSourceEvent:
		return t.EventName == "" || t.EventName == ctx.EventName
	case TriggerSourceAttribute:
		if t.AttributeKey != "" && t.AttributeKey != ctx.AttributeKey {
			return false
		}

		if t.FromValue != nil && (ctx.FromValue == nil || *t.FromValue != *ctx.FromValue) {
			return false
		}

		if t.ToValue != nil && (ctx.ToValue == nil || *t.ToValue != *ctx.ToValue) {
			return false
		}

		return true
	case TriggerSourceManual:
		return true
	default:
		return false
	}
}

// AcceptsTrigger reports whether the series admits an enrollment attempt for
// the given context. A series with no configured triggers accepts anything.
func (s *Series) AcceptsTrigger(ctx TriggerContext) bool {
	if len(s.Triggers) == 0 {
		return true
	}

	for _, trigger := range s.Triggers {
		if trigger.Matches(ctx) {
			return true
		}
	}

	return false
}
