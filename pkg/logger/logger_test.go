package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Init("loud", false))
	require.NoError(t, Init("warn", true))
	Set(zap.NewNop())
}

func TestReportLogsAtErrorLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(zap.NewNop()) })

	Report("store write failed", errors.New("disk full"), zap.String("op", "posts.create"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "posts.create", entries[0].ContextMap()["op"])
	assert.Equal(t, "disk full", entries[0].ContextMap()["error"])
}
