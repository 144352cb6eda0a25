package cmd

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
	"github.com/telebroad/ftpserver/config"
)

func setupLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Level {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	}

	handler := tint.NewHandler(w, &tint.Options{
		AddSource: cfg.AddSource,
		Level:     logLevel,
		NoColor:   cfg.NoColor,
	})

	logger := slog.New(handler).With("app", "ftpserver")
	logger.Debug("Logger initialized", "level", logLevel)
	return logger
}
