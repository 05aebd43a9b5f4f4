package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"DEBUG", zapcore.DebugLevel},
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"WARN", zapcore.WarnLevel},
		{"WARNING", zapcore.WarnLevel},
		{"ERROR", zapcore.ErrorLevel},
		{"nonsense", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run("level "+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestNew(t *testing.T) {
	logger, err := New(zapcore.InfoLevel)
	require.NoError(t, err)
	require.NotNil(t, logger)

	// Logging and syncing must not panic. Sync may fail on stdout
	// depending on the platform, which is fine.
	logger.Info(context.Background(), "started")
	_ = logger.Sync()
}

// observedLogger builds a ZapLogger around an in-memory core so tests can
// inspect what was written.
func observedLogger(level zapcore.Level) (*ZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return &ZapLogger{logger: zap.New(core)}, logs
}

func TestZapLogger_FieldMapping(t *testing.T) {
	ctx := context.Background()
	logger, logs := observedLogger(zapcore.DebugLevel)

	logger.Debug(ctx, "tick received", map[string]interface{}{"pair": "ETH/USDT"})
	logger.Info(ctx, "position opened", map[string]interface{}{"positionID": int64(7)})
	logger.Warn(ctx, "no trade account")
	logger.Error(ctx, assert.AnError, "order failed", map[string]interface{}{"orderID": int64(42)})

	entries := logs.All()
	require.Len(t, entries, 4)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "tick received", entries[0].Message)
	assert.Equal(t, "ETH/USDT", entries[0].ContextMap()["pair"])

	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, int64(7), entries[1].ContextMap()["positionID"])

	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Empty(t, entries[2].Context)

	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	ctxMap := entries[3].ContextMap()
	assert.Equal(t, int64(42), ctxMap["orderID"])
	assert.Equal(t, assert.AnError.Error(), ctxMap["error"])
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	ctx := context.Background()
	logger, logs := observedLogger(zapcore.WarnLevel)

	logger.Debug(ctx, "hidden")
	logger.Info(ctx, "hidden")
	logger.Warn(ctx, "visible")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "visible", entries[0].Message)
}
