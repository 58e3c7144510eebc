// Package logging builds the zap loggers handed to every component.
package logging

import (
	"strings"

	"go.uber.org/zap"
)

// Config selects the level and encoder of the logger.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json", "console"
}

// New builds a logger. Unknown levels fall back to info, unknown formats to console.
func New(cfg Config) (*zap.Logger, error) {
	var zapConfig zap.Config

	switch strings.ToLower(cfg.Format) {
	case "json":
		zapConfig = zap.NewProductionConfig()
	default:
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = level

	return zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
}

// Component tags every entry of log with the component name. A nil logger
// yields a no-op logger so constructors can accept nil.
func Component(log *zap.Logger, name string) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log.With(zap.String("component", name))
}

// Sync flushes buffered entries. Sync on stderr fails on some platforms and
// is not worth reporting.
func Sync(log *zap.Logger) {
	if log == nil {
		return
	}
	_ = log.Sync()
}
