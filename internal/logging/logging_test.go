package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		enabled zapcore.Level
		off     zapcore.Level
	}{
		{"debug", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"info", zapcore.InfoLevel, zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel, zapcore.InfoLevel},
		{" error ", zapcore.ErrorLevel, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := New(tt.level, false)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.off))
		})
	}
}

func TestNew_Off(t *testing.T) {
	for _, level := range []string{"", "off", "none"} {
		logger, err := New(level, false)
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zapcore.FatalLevel))
	}
}

func TestNew_Invalid(t *testing.T) {
	_, err := New("chatty", false)
	assert.ErrorContains(t, err, "invalid log level")
}
