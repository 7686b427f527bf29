package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger. JSON output so aggregation can index the
// log_type=audit attributes services attach to workflow transitions.
func New(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
