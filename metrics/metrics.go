// Package metrics exposes the read path counters and request latency on a
// private Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "readaside"

// Cache lookup outcomes.
const (
	LookupHit      = "hit"
	LookupMiss     = "miss"
	LookupDegraded = "degraded"
	LookupCorrupt  = "corrupt"
	LookupNegative = "negative"
)

// Store query outcomes.
const (
	QueryFound       = "found"
	QueryNotFound    = "not_found"
	QueryUnavailable = "unavailable"
	QueryRetried     = "retried"
)

// Cache populate outcomes.
const (
	PopulateOK      = "ok"
	PopulateFailed  = "failed"
	PopulateSkipped = "skipped"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	cacheLookups     *prometheus.CounterVec
	storeQueries     *prometheus.CounterVec
	cachePopulates   *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	populateInFlight prometheus.Gauge
}

// New creates the collectors on a fresh registry along with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by outcome.",
		}, []string{"result"}),
		storeQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_queries_total",
			Help:      "Store point reads by outcome.",
		}, []string{"result"}),
		cachePopulates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_populates_total",
			Help:      "Cache writes after a miss by outcome.",
		}, []string{"result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Read request latency by response status.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"status"}),
		populateInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_populates_in_flight",
			Help:      "Asynchronous cache writes not yet finished.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cacheLookups,
		m.storeQueries,
		m.cachePopulates,
		m.requestDuration,
		m.populateInFlight,
	)
	return m
}

func (m *Metrics) CacheLookup(result string) {
	if m != nil {
		m.cacheLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) StoreQuery(result string) {
	if m != nil {
		m.storeQueries.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) CachePopulate(result string) {
	if m != nil {
		m.cachePopulates.WithLabelValues(result).Inc()
	}
}

// PopulateStarted and PopulateDone track asynchronous writes.
func (m *Metrics) PopulateStarted() {
	if m != nil {
		m.populateInFlight.Inc()
	}
}

func (m *Metrics) PopulateDone() {
	if m != nil {
		m.populateInFlight.Dec()
	}
}

func (m *Metrics) ObserveRequest(status int, d time.Duration) {
	if m != nil {
		m.requestDuration.WithLabelValues(strconv.Itoa(status)).Observe(d.Seconds())
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
