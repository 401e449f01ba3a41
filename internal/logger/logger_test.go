package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		log, err := NewLogger("warn", "json")
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
		assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	})

	t.Run("DefaultLevel", func(t *testing.T) {
		log, err := NewLogger("", "console")
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("BadLevel", func(t *testing.T) {
		_, err := NewLogger("loud", "json")
		assert.Error(t, err)
	})
}
