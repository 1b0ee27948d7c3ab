package models

import "time"

// ProgressStatus is the state of one visitor's execution cursor.
type ProgressStatus string

const (
	ProgressStatusActive      ProgressStatus = "active"
	ProgressStatusWaiting     ProgressStatus = "waiting"
	ProgressStatusCompleted   ProgressStatus = "completed"
	ProgressStatusExited      ProgressStatus = "exited"
	ProgressStatusGoalReached ProgressStatus = "goal_reached"
	ProgressStatusFailed      ProgressStatus = "failed"
)

// IsTerminal reports whether the status permits no further execution.
func (s ProgressStatus) IsTerminal() bool {
	switch s {
	case ProgressStatusCompleted, ProgressStatusExited, ProgressStatusGoalReached, ProgressStatusFailed:
		return true
	default:
		return false
	}
}

// Progress is one visitor's execution cursor through a series. At most one
// live row exists per (visitor, series) pair; races are resolved by keeping
// the earliest by (EnteredAt, ID).
type Progress struct {
	ID             string         `json:"id"`
	WorkspaceID    string         `json:"workspace_id"`
	SeriesID       string         `json:"series_id"  validate:"required"`
	VisitorID      string         `json:"visitor_id" validate:"required"`
	CurrentBlockID *string        `json:"current_block_id,omitempty"`
	Status         ProgressStatus `json:"status"`

	// WaitUntil and WaitEventName are mutually exclusive; exactly one is
	// set while Status is waiting on a wait block, and WaitUntil alone is
	// set while waiting on a retry backoff.
	WaitUntil     *time.Time `json:"wait_until,omitempty"`
	WaitEventName *string    `json:"wait_event_name,omitempty"`

	AttemptCount int    `json:"attempt_count"`
	LastError    string `json:"last_error,omitempty"`

	EnteredAt     time.Time  `json:"entered_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ExitedAt      *time.Time `json:"exited_at,omitempty"`
	GoalReachedAt *time.Time `json:"goal_reached_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// Before reports whether p wins the keep-earliest reconciliation against
// other, ordering by (EnteredAt, ID).
func (p *Progress) Before(other *Progress) bool {
	if p.EnteredAt.Equal(other.EnteredAt) {
		return p.ID < other.ID
	}

	return p.EnteredAt.Before(other.EnteredAt)
}

// HistoryAction labels one progress history entry.
type HistoryAction string

const (
	HistoryActionEntered   HistoryAction = "entered"
	HistoryActionCompleted HistoryAction = "completed"
	HistoryActionSkipped   HistoryAction = "skipped"
	HistoryActionFailed    HistoryAction = "failed"
)

// HistoryEntry is one line of the append-only execution audit trail. A
// completed entry for a content block is the idempotency source-of-truth,
// keyed by (visitor, series, block) rather than the progress row, so the
// engine never re-delivers even when duplicate enrollments race.
type HistoryEntry struct {
	ID         string        `json:"id"`
	ProgressID string        `json:"progress_id"`
	SeriesID   string        `json:"series_id"`
	VisitorID  string        `json:"visitor_id"`
	BlockID    string        `json:"block_id"`
	Action     HistoryAction `json:"action"`
	Result     string        `json:"result,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}
