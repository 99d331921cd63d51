package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bktiel/rpchat/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	l := logging.New(format, lvl, os.Stderr).With("app", "rpchat")
	logging.Set(l)
	return l
}

// redirectOutput implements spec.md's "-l <log_path>" behavior: stdout and
// stderr are redirected to the given path, created if absent and appended
// to otherwise, with permissions 0744.
func redirectOutput(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o744)
	if err != nil {
		return nil, fmt.Errorf("open log path %q: %w", path, err)
	}
	os.Stdout = f
	os.Stderr = f
	return f, nil
}
