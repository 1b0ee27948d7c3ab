package log

import (
	"log/slog"
	"os"
)

func Setup(logLevel string) {
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}

// ForSeries returns a logger scoped to one series, used by the engine and
// scheduler so every line of an execution carries the series id.
func ForSeries(logger *slog.Logger, workspaceID, seriesID string) *slog.Logger {
	return logger.With("workspace_id", workspaceID, "series_id", seriesID)
}
