package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger configured for the given service name. The
// detached reaper logs through it with stdout pointed at the reap log.
func New(service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}

// NewText returns a text slog.Logger writing to stderr, keeping stdout free
// for command output during interactive runs.
func NewText(service string, level slog.Level) *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}
