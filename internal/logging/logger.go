// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder, level and sinks.
type Config struct {
	Development bool
	// Level is a zap level name; empty means info.
	Level       string
	OutputPaths []string
}

// New builds a zap.Logger configured for development or production.
func New(c Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if c.Level != "" {
		if err := level.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", c.Level, err)
		}
	}
	if c.Development {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		applyOutputs(&cfg, c.OutputPaths)
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	applyOutputs(&cfg, c.OutputPaths)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

func applyOutputs(cfg *zap.Config, paths []string) {
	if len(paths) == 0 {
		return
	}
	cfg.OutputPaths = paths
	cfg.ErrorOutputPaths = paths
	for _, p := range paths {
		if p != "stderr" && p != "stdout" {
			// Color level codes only on terminal streams.
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
			return
		}
	}
}
