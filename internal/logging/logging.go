// Package logging installs the process logger into a context.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/chainguard-dev/clog"
)

// ParseLevel maps debug|info|warn|warning|error to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// New returns a text logger writing to w. debug forces the debug level.
func New(w io.Writer, level string, debug bool) (*clog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if debug {
		lvl = slog.LevelDebug
	}
	return clog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// Setup builds a stderr logger and returns ctx carrying it.
func Setup(ctx context.Context, level string, debug bool) (context.Context, error) {
	logger, err := New(os.Stderr, level, debug)
	if err != nil {
		return ctx, err
	}
	return clog.WithLogger(ctx, logger), nil
}
