package main

import (
	"log/slog"
	"os"

	"github.com/freefly-qx/qx-gateway/internal/qxlogging"
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
	l := qxlogging.New(format, lvl, os.Stderr).With("app", "qx-gateway")
	qxlogging.Set(l)
	return l
}
