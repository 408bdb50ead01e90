package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "socialpulse"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collector exposes Prometheus metrics for inbound HTTP requests and the
// account connection and sync pipelines.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	oauthSteps      *prometheus.CounterVec
	samplesStored   *prometheus.CounterVec
	syncRuns        *prometheus.CounterVec
	tokenRefreshes  *prometheus.CounterVec
}

// New constructs a collector on its own registry.
func New() (*Collector, error) {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),
		oauthSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_steps_total",
			Help:      "OAuth connect flow steps by outcome.",
		}, []string{"step", "outcome"}),
		samplesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_samples_stored_total",
			Help:      "Analytics samples written to the store.",
		}, []string{"metric_type"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Per-account analytics sync runs by outcome.",
		}, []string{"outcome"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Long-lived token refresh attempts by outcome.",
		}, []string{"outcome"}),
	}

	for _, collector := range []prometheus.Collector{
		c.requestDuration,
		c.requestTotal,
		c.oauthSteps,
		c.samplesStored,
		c.syncRuns,
		c.tokenRefreshes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics. When
// next is a ServeMux the route pattern is used as the path label.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.Pattern
		if path == "" {
			path = r.URL.Path
		}

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

// RecordOAuthStep counts one connect flow step.
func (c *Collector) RecordOAuthStep(step, outcome string) {
	c.oauthSteps.WithLabelValues(step, outcome).Inc()
}

// RecordSamplesStored counts n samples written for metricType.
func (c *Collector) RecordSamplesStored(metricType string, n int) {
	c.samplesStored.WithLabelValues(metricType).Add(float64(n))
}

func (c *Collector) RecordSyncRun(outcome string) {
	c.syncRuns.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordTokenRefresh(outcome string) {
	c.tokenRefreshes.WithLabelValues(outcome).Inc()
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
