package models

import "time"

// BlockTelemetry is the per-(series, block) aggregate of execution counters.
// Counters only ever increase; rows are deleted only with the series.
type BlockTelemetry struct {
	SeriesID string `json:"series_id"`
	BlockID  string `json:"block_id"`

	Entered   int64 `json:"entered"`
	Completed int64 `json:"completed"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`

	DeliveryAttempts int64 `json:"delivery_attempts"`
	DeliveryFailures int64 `json:"delivery_failures"`

	// Branch counters, populated for rule blocks only.
	BranchYes int64 `json:"branch_yes"`
	BranchNo  int64 `json:"branch_no"`

	LastResult string    `json:"last_result,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TelemetryDelta is one increment applied to a telemetry row. Zero-valued
// fields leave the corresponding counter untouched.
type TelemetryDelta struct {
	Entered          int64
	Completed        int64
	Skipped          int64
	Failed           int64
	DeliveryAttempts int64
	DeliveryFailures int64
	BranchYes        int64
	BranchNo         int64
	LastResult       string
}

// Apply folds the delta into the row.
func (t *BlockTelemetry) Apply(delta TelemetryDelta, now time.Time) {
	t.Entered += delta.Entered
	t.Completed += delta.Completed
	t.Skipped += delta.Skipped
	t.Failed += delta.Failed
	t.DeliveryAttempts += delta.DeliveryAttempts
	t.DeliveryFailures += delta.DeliveryFailures
	t.BranchYes += delta.BranchYes
	t.BranchNo += delta.BranchNo

	if delta.LastResult != "" {
		t.LastResult = delta.LastResult
	}

	t.UpdatedAt = now
}
