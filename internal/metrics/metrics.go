// Package metrics collects Prometheus metrics for the HTTP surface and the
// session lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and records all service metrics.
type Collector struct {
	registry *prometheus.Registry

	lifecycleOps    *prometheus.CounterVec
	provisionerOps  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		lifecycleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "interview_session_operations_total",
			Help: "Session lifecycle operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		provisionerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "interview_provisioner_calls_total",
			Help: "Calls to the external call/chat provider by operation and outcome.",
		}, []string{"operation", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "interview_http_request_duration_seconds",
			Help:    "HTTP request latency by method and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}

	registry.MustRegister(c.lifecycleOps, c.provisionerOps, c.requestDuration)

	return c
}

func (c *Collector) RecordLifecycleOp(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.lifecycleOps.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) RecordProvisionerCall(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.provisionerOps.WithLabelValues(operation, outcome).Inc()
}

// Handler serves the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working behind the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request latency per method and status code.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		c.requestDuration.
			WithLabelValues(r.Method, strconv.Itoa(recorder.status)).
			Observe(time.Since(start).Seconds())
	})
}
