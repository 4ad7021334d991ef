package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/agentuity/readaside/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNew(t *testing.T) {
	var requests atomic.Int32
	var authHeader atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		authHeader.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx := context.Background()

	ctx2, log, shutdown, err := New(ctx, "test-service", server.URL, "", nil)
	require.NoError(t, err)
	require.NotNil(t, ctx2)
	require.NotNil(t, log)
	require.NotNil(t, shutdown)
	shutdown()

	consoleLogger := logger.NewTestLogger()
	ctx3, log2, shutdown2, err := New(ctx, "test-service", server.URL, "secret", consoleLogger)
	require.NoError(t, err)
	require.NotNil(t, ctx3)

	_, spanLog, span := StartSpan(ctx3, log2, Tracer(), "Function Handler")
	spanLog.Info("inside span")
	span.End()
	shutdown2()

	assert.True(t, consoleLogger.Has("INFO", "inside span"), "console logger is stacked under the otel logger")
	assert.Greater(t, requests.Load(), int32(0), "shutdown flushes to the collector")
	assert.Equal(t, "Bearer secret", authHeader.Load())
}

func TestNewWithInvalidURL(t *testing.T) {
	for _, u := range []string{"://invalid-url", "localhost:4318"} {
		ctx2, log, shutdown, err := New(context.Background(), "test-service", u, "", nil)
		assert.Error(t, err, u)
		assert.Nil(t, ctx2)
		assert.Nil(t, log)
		assert.Nil(t, shutdown)
		assert.Contains(t, err.Error(), "error parsing oltpServerURL")
	}
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()

	ctx2, log2, span := StartSpan(ctx, log, noop.NewTracerProvider().Tracer("test"), "test-span")
	require.NotNil(t, ctx2)
	require.NotNil(t, log2)
	require.NotNil(t, span)
	span.End()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	_, _, span = StartSpan(ctx, log, tp.Tracer("test"), "Query Cache", attribute.String("cache.key", "row:1"))
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "Query Cache", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.String("cache.key", "row:1"))
}
