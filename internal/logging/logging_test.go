package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewTeesEntries(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	logger, err := New(false, core)
	require.NoError(t, err)

	logger.Info("profile saved", zap.String("profile_id", "p1"))
	logger.Debug("hidden")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "profile saved", entry.Message)
	assert.Equal(t, "p1", entry.ContextMap()["profile_id"])
}

func TestLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, Level(true))
	assert.Equal(t, zapcore.InfoLevel, Level(false))
	logger, err := New(true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
