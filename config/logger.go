package config

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var globalLogger *zap.Logger

// InitLogger builds the process logger and keeps it for Cleanup. Format
// "json" writes one JSON object per line; anything else uses the colored
// console encoder. Both write to stderr so command output on stdout stays
// machine readable.
func InitLogger(level, format string) (*zap.Logger, error) {
	var zc zap.Config
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		zc = zap.NewProductionConfig()
		zc.Sampling = nil
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(parseLevel(level))
	zc.OutputPaths = []string{"stderr"}

	logger, err := zc.Build(zap.Fields(zap.String("service", "graph-ingest")))
	if err != nil {
		return nil, err
	}
	globalLogger = logger
	return logger, nil
}

// parseLevel accepts zap level names plus "warning". Unknown values mean info.
func parseLevel(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}
