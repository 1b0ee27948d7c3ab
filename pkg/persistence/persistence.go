// Package persistence provides the storage abstraction for series, blocks,
// progress, history and telemetry records.
package persistence

import (
	"context"
	"time"

	"github.com/engageline/series/pkg/models"
)

// Persistence is the root storage handle. Every mutation behaves as an
// atomic write against the backing store; partial writes are never
// observable by readers.
type Persistence interface {
	SeriesRepository() SeriesRepository
	BlockRepository() BlockRepository
	ConnectionRepository() ConnectionRepository
	ProgressRepository() ProgressRepository
	HistoryRepository() HistoryRepository
	TelemetryRepository() TelemetryRepository
	VisitorRepository() VisitorRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// SeriesRepository stores series definitions and their aggregate stats.
type SeriesRepository interface {
	GetAll(ctx context.Context, workspaceID string) ([]*models.Series, error)
	GetByID(ctx context.Context, id string) (*models.Series, error)
	GetByStatus(ctx context.Context, status models.SeriesStatus) ([]*models.Series, error)
	Save(ctx context.Context, series *models.Series) error

	// ApplyStatsDelta atomically adds the given deltas to the series stats
	// buckets. Deltas may be negative for the live buckets but the stored
	// counters never drop below zero.
	ApplyStatsDelta(ctx context.Context, seriesID string, delta models.SeriesStats) error

	// Delete removes the series and cascades to its blocks, connections,
	// telemetry, progress and history.
	Delete(ctx context.Context, id string) error
}

// BlockRepository stores graph nodes.
type BlockRepository interface {
	GetBySeries(ctx context.Context, seriesID string) ([]*models.Block, error)
	GetByID(ctx context.Context, seriesID, blockID string) (*models.Block, error)
	Save(ctx context.Context, block *models.Block) error
	Delete(ctx context.Context, seriesID, blockID string) error
}

// ConnectionRepository stores graph edges.
type ConnectionRepository interface {
	GetBySeries(ctx context.Context, seriesID string) ([]*models.Connection, error)
	Save(ctx context.Context, connection *models.Connection) error
	Delete(ctx context.Context, seriesID, connectionID string) error
}

// ProgressRepository stores execution cursors, indexed by (visitor, series)
// for uniqueness reconciliation and by (series, status) for sweep scans.
type ProgressRepository interface {
	GetByID(ctx context.Context, id string) (*models.Progress, error)

	// GetByVisitorAndSeries returns every live row for the pair, unordered.
	// More than one row can exist briefly between a racing enrollment and
	// its reconciliation pass.
	GetByVisitorAndSeries(ctx context.Context, visitorID, seriesID string) ([]*models.Progress, error)

	// GetBySeriesAndStatus serves the scheduler sweep.
	GetBySeriesAndStatus(ctx context.Context, seriesID string, status models.ProgressStatus) ([]*models.Progress, error)

	// GetWaitingByVisitor serves event-based resumption across all the
	// visitor's series.
	GetWaitingByVisitor(ctx context.Context, visitorID string) ([]*models.Progress, error)

	Save(ctx context.Context, progress *models.Progress) error
	Delete(ctx context.Context, id string) error
}

// HistoryRepository stores the append-only execution audit trail.
type HistoryRepository interface {
	Append(ctx context.Context, entry *models.HistoryEntry) error
	GetByProgress(ctx context.Context, progressID string) ([]*models.HistoryEntry, error)

	// HasEntry reports whether an entry with the given action exists for
	// the (visitor, series, block) triple, across every progress row the
	// pair has held. Content-block idempotency checks use this with
	// models.HistoryActionCompleted so a duplicate enrollment row never
	// re-delivers.
	HasEntry(ctx context.Context, visitorID, seriesID, blockID string, action models.HistoryAction) (bool, error)
}

// TelemetryRepository stores per-(series, block) aggregate counters.
type TelemetryRepository interface {
	// Increment upserts the row and folds the delta into it.
	Increment(ctx context.Context, seriesID, blockID string, delta models.TelemetryDelta, now time.Time) error
	GetBySeries(ctx context.Context, seriesID string) ([]*models.BlockTelemetry, error)
}

// VisitorRepository stores the visitor records the engine evaluates rules
// against. The surrounding platform owns the full visitor profile; this
// repository holds the engine's view of it.
type VisitorRepository interface {
	GetByID(ctx context.Context, id string) (*models.Visitor, error)
	Save(ctx context.Context, visitor *models.Visitor) error
}
