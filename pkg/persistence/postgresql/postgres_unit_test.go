package postgresql

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationsContent(t *testing.T) {
	m := migrations()

	migration, exists := m[1]
	assert.True(t, exists, "Migration version 1 should exist")

	for _, table := range []string{
		"CREATE TABLE series ",
		"CREATE TABLE series_blocks",
		"CREATE TABLE series_connections",
		"CREATE TABLE series_progress",
		"CREATE TABLE series_history",
		"CREATE TABLE series_block_telemetry",
		"CREATE TABLE series_visitors",
	} {
		assert.Contains(t, migration, table)
	}

	// The engine's reconciliation and sweep queries depend on these.
	assert.Contains(t, migration, "idx_progress_pair")
	assert.Contains(t, migration, "idx_progress_series_status")
	assert.Contains(t, migration, "idx_progress_visitor_status")
	assert.Contains(t, migration, "idx_history_dedup")
}

func TestNewPersistenceInvalidURL(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := NewPersistence(ctx, logger, "not-a-valid-url")
	assert.Error(t, err)
	assert.Nil(t, p)
}
