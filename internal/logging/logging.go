// Package logging builds the process logger: tinted console output in
// dev, JSON in prod, with an optional rotating file sink.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"co2mon/internal/config"
)

const (
	maxLogMB   = 10
	maxBackups = 5
)

func New(cfg config.Config, version string, appName string) *slog.Logger {
	// Load already validated the level.
	level, _ := config.ParseLogLevel(cfg.LogLevel)

	var h slog.Handler
	if version == "dev" {
		h = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
	} else {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	if cfg.LogFile != "" {
		rotatingFile := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    maxLogMB,
			MaxBackups: maxBackups,
		}
		fileHandler := slog.NewJSONHandler(rotatingFile, &slog.HandlerOptions{
			Level: level,
		})
		h = &multiHandler{handlers: []slog.Handler{h, fileHandler}}
	}

	log := slog.New(h).With("app", appName)
	if version != "dev" {
		log = log.With("version", version, "env", cfg.AppEnv)
	}
	return log
}

type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		_ = h.Handle(ctx, r.Clone())
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
