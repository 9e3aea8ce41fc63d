package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func TestTraceHandler_NoSpanContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "download started", "url", "http://example.com/a")

	entry := decodeRecord(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.Equal(t, "download started", entry["msg"])
	assert.Equal(t, "http://example.com/a", entry["url"])
}

func TestTraceHandler_WithSpanContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "download")
	defer span.End()

	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(ctx, "download started")

	entry := decodeRecord(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}

func TestTraceHandler_WithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithRequestID(context.Background(), "req-42")
	logger.WarnContext(ctx, "download rejected")

	entry := decodeRecord(t, &buf)
	assert.Equal(t, "req-42", entry["request_id"])
	assert.NotContains(t, entry, "trace_id")

	buf.Reset()
	logger.Warn("download rejected")

	assert.NotContains(t, decodeRecord(t, &buf), "request_id")
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestTraceHandler_Enabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))
	assert.True(t, h.Enabled(ctx, slog.LevelError))
}

func TestTraceHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	base := NewTraceHandler(slog.NewJSONHandler(&buf, nil))

	withAttrs := base.WithAttrs([]slog.Attr{slog.String("component", "transfer")})
	require.IsType(t, &TraceHandler{}, withAttrs)

	withGroup := withAttrs.WithGroup("session")
	require.IsType(t, &TraceHandler{}, withGroup)

	slog.New(withGroup).Info("chunk written", "bytes", 8192)

	entry := decodeRecord(t, &buf)
	assert.Equal(t, "transfer", entry["component"])
	require.Contains(t, entry, "session")
	assert.Equal(t, float64(8192), entry["session"].(map[string]any)["bytes"])
}

func TestTraceHandler_NilHandler(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}

func TestWithDownload(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx = WithDownload(ctx, "rec-1", "movies/a.mkv")
	LoggerFromContext(ctx).Info("queued")

	entry := decodeRecord(t, &buf)
	assert.Equal(t, "rec-1", entry["download_id"])
	assert.Equal(t, "movies/a.mkv", entry["destination"])
}

func TestLoggerFromContext_Default(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))
}
