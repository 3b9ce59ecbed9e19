// Package observability provides structured logging for the game server.
package observability

import (
	"fmt"
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/gambit/internal/config"
)

// ServiceName is attached to every log entry as the "service" field.
const ServiceName = "gambit"

// NewLogger creates a structured logger from the given logging configuration.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
		zapCfg.InitialFields = map[string]any{"service": ServiceName}
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

// StdLogger adapts logger for libraries that only accept a *log.Logger, such
// as net/http's ErrorLog. Entries are written at warn level.
//
// Precondition: logger must be non-nil.
func StdLogger(logger *zap.Logger) *log.Logger {
	std, err := zap.NewStdLogAt(logger, zap.WarnLevel)
	if err != nil {
		// Only reachable with an invalid level constant.
		return zap.NewStdLog(logger)
	}
	return std
}
