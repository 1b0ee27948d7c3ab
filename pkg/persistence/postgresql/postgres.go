// Package postgresql provides the PostgreSQL persistence implementation for
// series orchestration state.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/engageline/series/pkg/persistence"
	"github.com/engageline/series/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	seriesRepo     *SeriesRepository
	blockRepo      *BlockRepository
	connectionRepo *ConnectionRepository
	progressRepo   *ProgressRepository
	historyRepo    *HistoryRepository
	telemetryRepo  *TelemetryRepository
	visitorRepo    *VisitorRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs
// pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	postgres := &Persistence{
		db:     database,
		logger: logger,
	}
	postgres.seriesRepo = &SeriesRepository{db: database, logger: logger}
	postgres.blockRepo = &BlockRepository{db: database, logger: logger}
	postgres.connectionRepo = &ConnectionRepository{db: database, logger: logger}
	postgres.progressRepo = &ProgressRepository{db: database, logger: logger}
	postgres.historyRepo = &HistoryRepository{db: database, logger: logger}
	postgres.telemetryRepo = &TelemetryRepository{db: database, logger: logger}
	postgres.visitorRepo = &VisitorRepository{db: database, logger: logger}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) SeriesRepository() persistence.SeriesRepository {
	return p.seriesRepo
}

func (p *Persistence) BlockRepository() persistence.BlockRepository {
	return p.blockRepo
}

func (p *Persistence) ConnectionRepository() persistence.ConnectionRepository {
	return p.connectionRepo
}

func (p *Persistence) ProgressRepository() persistence.ProgressRepository {
	return p.progressRepo
}

func (p *Persistence) HistoryRepository() persistence.HistoryRepository {
	return p.historyRepo
}

func (p *Persistence) TelemetryRepository() persistence.TelemetryRepository {
	return p.telemetryRepo
}

func (p *Persistence) VisitorRepository() persistence.VisitorRepository {
	return p.visitorRepo
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
