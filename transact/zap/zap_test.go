//go:build unit

package zap

import (
	"context"
	"errors"
	"testing"

	logpkg "github.com/LerianStudio/lib-transact/transact/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, observed := observer.New(level)

	return &Logger{logger: zap.New(core)}, observed
}

func TestLoggerNilReceiverFallsBackToNop(t *testing.T) {
	var nilLogger *Logger

	assert.NotPanics(t, func() {
		nilLogger.Log(context.Background(), logpkg.LevelInfo, "message")
	})
	assert.NotNil(t, nilLogger.Raw())
}

func TestLogAllLevels(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.DebugLevel)
	ctx := context.Background()

	logger.Log(ctx, logpkg.LevelDebug, "debug")
	logger.Log(ctx, logpkg.LevelInfo, "info", logpkg.TransactionID("transact-1"))
	logger.Log(ctx, logpkg.LevelWarn, "warn")
	logger.Log(ctx, logpkg.LevelError, "error", logpkg.Err(errors.New("boom")))

	entries := observed.All()
	require.Len(t, entries, 4)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, "transact-1", entries[1].ContextMap()["transaction_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestLogUnknownLevelDefaultsToInfo(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.DebugLevel)

	logger.Log(context.Background(), logpkg.Level(99), "fallback")

	require.Len(t, observed.All(), 1)
	assert.Equal(t, zapcore.InfoLevel, observed.All()[0].Level)
}

func TestLogBelowLevelIsDropped(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.WarnLevel)

	logger.Log(context.Background(), logpkg.LevelDebug, "debug")
	logger.Log(context.Background(), logpkg.LevelInfo, "info")
	logger.Log(context.Background(), logpkg.LevelWarn, "warn")

	require.Len(t, observed.All(), 1)
	assert.False(t, logger.Enabled(logpkg.LevelInfo))
	assert.True(t, logger.Enabled(logpkg.LevelError))
}

func TestLogEscapesControlCharacters(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.DebugLevel)

	logger.Log(context.Background(), logpkg.LevelInfo, "line1\nline2", logpkg.String("channel", "a\tb"))

	entry := observed.All()[0]
	assert.Equal(t, `line1\nline2`, entry.Message)
	assert.Equal(t, `a\tb`, entry.ContextMap()["channel"])
}

func TestLogWithOTelSpanInjectsTraceFields(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.DebugLevel)

	traceID, err := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("b7ad6b7169203331")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.Log(ctx, logpkg.LevelInfo, "traced")

	fields := observed.All()[0].ContextMap()
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", fields["trace_id"])
	assert.Equal(t, "b7ad6b7169203331", fields["span_id"])
}

func TestLogWithoutSpanHasNoTraceFields(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.DebugLevel)

	logger.Log(context.Background(), logpkg.LevelInfo, "untraced")

	_, ok := observed.All()[0].ContextMap()["trace_id"]
	assert.False(t, ok)
}

func TestWithDoesNotMutateParent(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.DebugLevel)
	child := logger.With(logpkg.String("store", "redis"))

	logger.Log(context.Background(), logpkg.LevelInfo, "parent")
	child.Log(context.Background(), logpkg.LevelInfo, "child")

	entries := observed.All()
	require.Len(t, entries, 2)

	_, parentHas := entries[0].ContextMap()["store"]
	assert.False(t, parentHas)
	assert.Equal(t, "redis", entries[1].ContextMap()["store"])
}

func TestWithGroupNamespacesFields(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.DebugLevel)

	logger.WithGroup("notifier").Log(context.Background(), logpkg.LevelInfo, "grouped", logpkg.String("event", "status"))

	grouped, ok := observed.All()[0].ContextMap()["notifier"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "status", grouped["event"])
}

func TestEnabled(t *testing.T) {
	logger, _ := newObservedLogger(zapcore.WarnLevel)

	assert.True(t, logger.Enabled(logpkg.LevelError))
	assert.True(t, logger.Enabled(logpkg.LevelWarn))
	assert.False(t, logger.Enabled(logpkg.LevelInfo))
	assert.False(t, logger.Enabled(logpkg.LevelDebug))
}

func TestSyncWithCancelledContext(t *testing.T) {
	logger, _ := newObservedLogger(zapcore.DebugLevel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, logger.Sync(ctx), context.Canceled)
	assert.NoError(t, logger.Sync(context.Background()))
}

func TestWrap(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)

	logger := Wrap(zap.New(core))
	logger.Log(context.Background(), logpkg.LevelDebug, "wrapped")

	assert.Equal(t, 1, observed.Len())
}
