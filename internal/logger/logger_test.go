package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	require.NotNil(t, logger)
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, TraceID(ctx))

	ctx = WithTraceID(ctx, "test-trace-123")
	assert.Equal(t, "test-trace-123", TraceID(ctx))
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := GenerateTraceID("NIFTY", ts)

	require.NotEmpty(t, tid)
	assert.True(t, strings.HasPrefix(tid, "NIFTY-"))
	assert.Contains(t, tid, "123456789")
}

func TestLogWithTrace(t *testing.T) {
	ctx := context.Background()

	assert.Nil(t, LogWithTrace(ctx))

	ctx = WithTraceID(ctx, "abc-123")
	attrs := LogWithTrace(ctx)
	assert.NotEmpty(t, attrs)
}
