// Package logger builds the process-wide slog.Logger from LoggerConfig.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"chatstream/internal/infra/config"
)

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// sink pairs a log destination with its close function.
type sink struct {
	w     io.Writer
	close func() error
}

// New builds a logger per cfg. The returned close function releases the log
// file when one is configured; it is a no-op for stdout and stderr.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	out, err := newSink(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}

	level, ok := levelNames[strings.ToLower(cfg.Level)]
	if !ok {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(out.w, opts)
	} else {
		h = slog.NewTextHandler(out.w, opts)
	}

	return slog.New(h).With("service", "chatstream"), out.close, nil
}

func newSink(output string) (*sink, error) {
	nop := func() error { return nil }
	switch strings.ToLower(output) {
	case "stdout":
		return &sink{w: os.Stdout, close: nop}, nil
	case "stderr", "":
		return &sink{w: os.Stderr, close: nop}, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, err
		}
		return &sink{w: f, close: f.Close}, nil
	}
}
