// Package obslog builds the structured loggers used across the database and
// tags database events with the severity classes operators filter on.
package obslog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/crystal-mush/musedb/pkg/conf"
)

// Severity classes attached to every repair and error event.
const (
	SevDiagnostic = "diagnostic"
	SevImportant  = "important"
	SevSecurity   = "security"
)

// New creates a structured logger from the given logging configuration.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
func New(cfg conf.LoggingConf) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Diagnostic logs a repair or consistency event.
func Diagnostic(l *zap.Logger, msg string, fields ...zap.Field) {
	l.Info(msg, append(fields, zap.String("severity", SevDiagnostic))...)
}

// Important logs an event an operator should look at.
func Important(l *zap.Logger, msg string, fields ...zap.Field) {
	l.Warn(msg, append(fields, zap.String("severity", SevImportant))...)
}

// Security logs a permission-relevant event.
func Security(l *zap.Logger, msg string, fields ...zap.Field) {
	l.Error(msg, append(fields, zap.String("severity", SevSecurity))...)
}
