package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewWithLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		development bool
		level       string
		enabled     zapcore.Level
		disabled    []zapcore.Level
	}{
		{name: "development default", development: true, enabled: zapcore.DebugLevel},
		{name: "production default", enabled: zapcore.InfoLevel, disabled: []zapcore.Level{zapcore.DebugLevel}},
		{name: "warn override", level: "warn", enabled: zapcore.WarnLevel, disabled: []zapcore.Level{zapcore.InfoLevel}},
		{name: "debug override in production", level: "debug", enabled: zapcore.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger, err := NewWithLevel(tt.development, tt.level)
			require.NoError(t, err)
			defer logger.Sync() //nolint:errcheck // best-effort flush

			assert.True(t, logger.Core().Enabled(tt.enabled))
			for _, lvl := range tt.disabled {
				assert.False(t, logger.Core().Enabled(lvl))
			}
		})
	}
}

func TestNewWithLevelRejectsUnknown(t *testing.T) {
	t.Parallel()

	_, err := NewWithLevel(true, "loud")
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}
