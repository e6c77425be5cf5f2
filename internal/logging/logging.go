// Package logging builds the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a JSON slog.Logger writing to stdout, tagged with service and env.
func NewLogger(level, serviceName, env string) *slog.Logger {
	return newLogger(os.Stdout, level, serviceName, env)
}

func newLogger(w io.Writer, level, serviceName, env string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h).With(
		slog.String("service", serviceName),
		slog.String("env", env),
	)
}

// ParseLevel maps a LOG_LEVEL value to a slog.Level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
