package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgehub/knowledge-hub/config"
)

func TestNewLogger(t *testing.T) {
	t.Run("json production logger", func(t *testing.T) {
		logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "info", LogFormat: "json"}, false)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		logger.Info("boot")
	})

	t.Run("text development logger", func(t *testing.T) {
		logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "debug", LogFormat: "text"}, true)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := NewLogger(config.ObservabilityConfig{LogLevel: "chatty"}, false)
		assert.Error(t, err)
	})
}
