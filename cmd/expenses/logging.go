package main

import (
	"io"
	"log/slog"

	"github.com/nicolRB/LogWare/pkg/config"
)

// setupLogger installs the process-wide slog handler from LOG_LEVEL and
// LOG_FORMAT.
func setupLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(handler).With("service", "logware-expenses")
	slog.SetDefault(logger)
	return logger
}
