// Package handler serves the read endpoint over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/agentuity/readaside/item"
	"github.com/agentuity/readaside/logger"
	"github.com/agentuity/readaside/metrics"
	"github.com/agentuity/readaside/resolver"
	"github.com/agentuity/readaside/sys"
)

// Resolver answers reads.
type Resolver interface {
	Resolve(ctx context.Context, key item.Key) (resolver.Result, error)
}

// HealthChecker reports whether the store can serve queries.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(h *Handler) { h.tracer = t }
}

// WithHealth enables the store check behind /readyz.
func WithHealth(c HealthChecker) Option {
	return func(h *Handler) { h.health = c }
}

type Handler struct {
	resolver   Resolver
	health     HealthChecker
	metrics    *metrics.Metrics
	log        logger.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	mux        *http.ServeMux
}

var _ http.Handler = (*Handler)(nil)

func New(res Resolver, log logger.Logger, opts ...Option) *Handler {
	h := &Handler{
		resolver:   res,
		log:        log.WithPrefix("[http]"),
		tracer:     noop.NewTracerProvider().Tracer(""),
		propagator: otel.GetTextMapPropagator(),
		mux:        http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.routes()
	return h
}

func (h *Handler) routes() {
	h.mux.HandleFunc("GET /{$}", h.read)
	h.mux.HandleFunc("GET /items/{id}", h.read)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	h.mux.HandleFunc("GET /readyz", h.ready)
	h.mux.Handle("GET /metrics", h.metrics.Handler())
}

// ServeHTTP applies CORS, panic recovery and access logging around the routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	rec := &statusRecorder{ResponseWriter: w}
	if err := sys.Recovered(func() error {
		h.mux.ServeHTTP(rec, r)
		return nil
	}); err != nil {
		h.log.Error("%s %s: %s\n%s", r.Method, r.URL.Path, err, errors.FlattenDetails(err))
		if !rec.wroteHeader {
			writeError(rec, http.StatusInternalServerError, "internal error")
		}
	}

	elapsed := time.Since(started)
	if r.URL.Path != "/metrics" {
		h.metrics.ObserveRequest(rec.status(), elapsed)
	}
	h.log.Debug("%s %s %d %s", r.Method, r.URL.RequestURI(), rec.status(), elapsed)
}

func (h *Handler) read(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(h.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header)), "Function Handler")
	defer span.End()
	log := h.log.WithContext(ctx)

	req, err := ParseReadRequest(r)
	if err != nil {
		span.SetStatus(codes.Error, "invalid request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	span.SetAttributes(attribute.String("item.id", req.ID.String()))

	res, err := h.resolver.Resolve(ctx, req.Key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		switch {
		case errors.Is(err, resolver.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "backend unavailable")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			log.Debug("read %s abandoned: %s", req.Key, err)
			writeError(w, http.StatusServiceUnavailable, "backend unavailable")
		case IsValidationError(err), errors.Is(err, item.ErrInvalidID):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error("read %s: %s", req.Key, err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	cacheStatus := "MISS"
	if res.Source == resolver.SourceCache {
		cacheStatus = "HIT"
	}
	w.Header().Set("X-Cache", cacheStatus)
	span.SetAttributes(attribute.String("cache.status", cacheStatus), attribute.Bool("item.found", res.Found))

	if !res.Found {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var body []byte
	if len(req.Fields) > 0 {
		body, err = json.Marshal(res.Item.Project(req.Fields))
	} else {
		body, err = json.Marshal(res.Item)
	}
	if err != nil {
		log.Error("encode %s: %s", req.Key, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	etag := `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
	w.Header().Set("ETag", etag)
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.CheckHealth(r.Context()); err != nil {
			h.log.Warn("readiness check failed: %s", err)
			writeError(w, http.StatusServiceUnavailable, "backend unavailable")
			return
		}
	}
	w.Write([]byte("OK"))
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.code = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) status() int {
	if !r.wroteHeader {
		return http.StatusOK
	}
	return r.code
}
