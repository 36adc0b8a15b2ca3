// Package logging provides the structured logger every component in this
// cluster is constructed with. It wraps go.uber.org/zap the same way the
// rest of this retrieval pack does (see neogan74/konsul's internal/logger):
// one config branch for human-readable development output, one for
// machine-parseable production JSON, selected by a single format flag.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a level name from a flag or config file onto a zap level,
// defaulting to Info for anything unrecognized.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a SugaredLogger. format "json" selects zap's production
// config (JSON-encoded, epoch timestamps); anything else selects the
// development config (plain console encoder, ISO8601 timestamps), which is
// friendlier for a node running in a terminal during local testing.
func New(level, format string) *zap.SugaredLogger {
	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}
