package handler

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/agentuity/readaside/cache"
	"github.com/agentuity/readaside/codec"
	"github.com/agentuity/readaside/item"
	"github.com/agentuity/readaside/logger"
	"github.com/agentuity/readaside/metrics"
	"github.com/agentuity/readaside/resolver"
)

type fakeStore struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]item.Item
	err   error
	calls atomic.Int32
}

func (s *fakeStore) Get(_ context.Context, id uuid.UUID) (item.Item, bool, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return item.Item{}, false, s.err
	}
	it, ok := s.rows[id]
	return it, ok, nil
}

type resolverFunc func(ctx context.Context, key item.Key) (resolver.Result, error)

func (f resolverFunc) Resolve(ctx context.Context, key item.Key) (resolver.Result, error) {
	return f(ctx, key)
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

type fixture struct {
	srv     *httptest.Server
	store   *fakeStore
	res     *resolver.Resolver
	log     *logger.TestLogger
	metrics *metrics.Metrics
}

func setup(t *testing.T, rows ...item.Item) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := cache.NewInMemory(ctx)
	t.Cleanup(func() {
		c.Close()
		cancel()
	})

	s := &fakeStore{rows: make(map[uuid.UUID]item.Item)}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	cdc, err := codec.New[item.Item]("msgpack", 0)
	require.NoError(t, err)

	cfg := resolver.DefaultConfig()
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.Jitter = false
	cfg.AsyncPopulate = false

	log := logger.NewTestLogger()
	m := metrics.New()
	res := resolver.New(c, s, cdc, cfg, log, resolver.WithMetrics(m))
	t.Cleanup(res.Wait)

	srv := httptest.NewServer(New(res, log, WithMetrics(m)))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: s, res: res, log: log, metrics: m}
}

func row(first, last string) item.Item {
	ts := time.Date(2024, 6, 1, 8, 30, 0, 123456000, time.UTC)
	return item.Item{ID: uuid.New(), FirstName: first, LastName: last, CreatedAt: ts, UpdatedAt: ts}
}

func get(t *testing.T, url string, header ...string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestParseReadRequest(t *testing.T) {
	id := uuid.New()

	r := httptest.NewRequest(http.MethodGet, "/?id="+strings.ToUpper(id.String()), nil)
	req, err := ParseReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, id, req.ID)
	assert.Equal(t, item.KeyFor(id), req.Key)
	assert.Empty(t, req.Fields)

	r = httptest.NewRequest(http.MethodGet, "/items/x?fields=last_name,%20first_name,last_name", nil)
	r.SetPathValue("id", id.String())
	req, err = ParseReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, id, req.ID)
	assert.Equal(t, []string{"last_name", "first_name"}, req.Fields)

	for _, target := range []string{"/", "/?id=42", "/?id=" + uuid.Nil.String(), "/?id=" + id.String() + "&fields=password"} {
		_, err := ParseReadRequest(httptest.NewRequest(http.MethodGet, target, nil))
		assert.True(t, IsValidationError(err), target)
	}
}

func TestReadMissThenHit(t *testing.T) {
	want := row("Ada", "Lovelace")
	f := setup(t, want)
	url := f.srv.URL + "/?id=" + want.ID.String()

	first, firstBody := get(t, url)
	require.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, "MISS", first.Header.Get("X-Cache"))
	assert.Equal(t, "application/json", first.Header.Get("Content-Type"))
	assert.Equal(t, "*", first.Header.Get("Access-Control-Allow-Origin"))

	var got item.Item
	require.NoError(t, json.Unmarshal(firstBody, &got))
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, "Ada", got.FirstName)

	second, secondBody := get(t, f.srv.URL+"/items/"+want.ID.String())
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "HIT", second.Header.Get("X-Cache"))
	assert.Equal(t, string(firstBody), string(secondBody), "cached and stored reads render identically")
	assert.Equal(t, first.Header.Get("ETag"), second.Header.Get("ETag"))
	assert.Equal(t, int32(1), f.store.calls.Load())

	notModified, body := get(t, url, "If-None-Match", first.Header.Get("ETag"))
	assert.Equal(t, http.StatusNotModified, notModified.StatusCode)
	assert.Empty(t, body)
}

func TestReadProjection(t *testing.T) {
	want := row("Grace", "Hopper")
	f := setup(t, want)

	resp, body := get(t, f.srv.URL+"/items/"+want.ID.String()+"?fields=first_name")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"first_name":"Grace"}`, string(body))

	resp, _ = get(t, f.srv.URL+"/items/"+want.ID.String()+"?fields=salary")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReadNotFound(t *testing.T) {
	f := setup(t)
	resp, body := get(t, f.srv.URL+"/?id="+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"not found"}`, string(body))
}

func TestReadBadRequestTouchesNothing(t *testing.T) {
	f := setup(t)
	for _, target := range []string{"/", "/?id=42", "/items/not-a-uuid"} {
		resp, body := get(t, f.srv.URL+target)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, target)
		assert.Contains(t, string(body), `"error"`)
	}
	assert.Equal(t, int32(0), f.store.calls.Load())
}

func TestReadStoreUnavailable(t *testing.T) {
	f := setup(t)
	f.store.err = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	resp, body := get(t, f.srv.URL+"/?id="+uuid.NewString())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.JSONEq(t, `{"error":"backend unavailable"}`, string(body))
}

func TestReadInternalError(t *testing.T) {
	log := logger.NewTestLogger()
	h := New(resolverFunc(func(context.Context, item.Key) (resolver.Result, error) {
		return resolver.Result{}, errors.New("boom")
	}), log)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?id="+uuid.NewString(), nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	assert.True(t, log.Has("ERROR", "boom"))
}

func TestPanicIsRecovered(t *testing.T) {
	log := logger.NewTestLogger()
	m := metrics.New()
	h := New(resolverFunc(func(context.Context, item.Key) (resolver.Result, error) {
		panic("kaboom")
	}), log, WithMetrics(m))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?id="+uuid.NewString(), nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, log.Has("ERROR", "kaboom"))
}

func TestPreflight(t *testing.T) {
	h := New(resolverFunc(nil), logger.NewTestLogger())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/items/x", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
}

func TestMethodNotAllowed(t *testing.T) {
	h := New(resolverFunc(nil), logger.NewTestLogger())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/items/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	healthy := true
	m := metrics.New()
	h := New(resolverFunc(nil), logger.NewTestLogger(), WithMetrics(m), WithHealth(healthFunc(func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("pool exhausted")
	})))

	serve := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, serve("/healthz").Code)
	assert.Equal(t, http.StatusOK, serve("/readyz").Code)
	healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, serve("/readyz").Code)
	assert.Equal(t, http.StatusOK, serve("/healthz").Code)

	rec := serve("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "readaside_request_duration_seconds")
}

func TestHandlerSpanJoinsIncomingTrace(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	want := row("Alan", "Turing")
	h := New(resolverFunc(func(context.Context, item.Key) (resolver.Result, error) {
		return resolver.Result{Item: want, Found: true, Source: resolver.SourceStore}, nil
	}), logger.NewTestLogger(), WithTracer(tp.Tracer("test")))
	h.propagator = propagation.TraceContext{}

	r := httptest.NewRequest(http.MethodGet, "/?id="+want.ID.String(), nil)
	r.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "Function Handler", spans[0].Name)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext.TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent.SpanID().String())
}
