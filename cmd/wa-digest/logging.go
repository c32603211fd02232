package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

func parseLevel(name string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger writes text logs to stderr and, when cfg.LogFile is set, to a size-rotated log file too.
// The returned closer releases the log file.
func newLogger(cfg Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	w := stderr
	var closer io.Closer = io.NopCloser(nil)

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f := logFileWriter(cfg)
		w = io.MultiWriter(stderr, f)
		closer = f
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel, cfg.Debug)})
	return slog.New(h), closer, nil
}

func logFileWriter(cfg Config) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}
}
