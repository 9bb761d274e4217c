// Package observability builds the application logger.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/knowledgehub/knowledge-hub/config"
)

// NewLogger builds a zap logger from the observability configuration.
// Format "text" uses the console encoder; everything else is JSON.
func NewLogger(cfg config.ObservabilityConfig, development bool) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var zapCfg zap.Config
	if development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	switch cfg.LogFormat {
	case "text":
		zapCfg.Encoding = "console"
	default:
		zapCfg.Encoding = "json"
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
