package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. JSON output so decision
// logs are machine-parseable by the analytics collaborator.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
