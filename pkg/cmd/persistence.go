// Package cmd provides common initialization functions for the series
// binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/engageline/series/pkg/persistence"
	"github.com/engageline/series/pkg/persistence/file"
	"github.com/engageline/series/pkg/persistence/postgresql"
)

// NewPersistence selects the store from the database URL scheme: postgres
// URLs get the postgres store, anything else is treated as a file-store
// root directory.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create postgres persistence: %w", err))
		}

		return store
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}
