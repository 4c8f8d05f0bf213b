// Package metrics holds the Prometheus collectors and the trace provider setup.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolution paths.
const (
	PathCached        = "cached"
	PathDeterministic = "deterministic"
	PathFallback      = "fallback"
	PathUnresolved    = "unresolved"
)

var (
	TestRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtest_test_runs_total",
			Help: "Test runs that reached a terminal status.",
		},
		[]string{"status"},
	)
	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtest_steps_total",
			Help: "Executed steps by recorded status.",
		},
		[]string{"status"},
	)
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtest_resolutions_total",
			Help: "Step resolutions at execution time by path.",
		},
		[]string{"path"},
	)
	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtest_batches_total",
			Help: "Batch runs that reached an aggregate status.",
		},
		[]string{"status"},
	)
	StepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webtest_step_duration_seconds",
			Help:    "Duration of step execution including screenshot capture.",
			Buckets: prometheus.DefBuckets,
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtest_http_requests_total",
			Help: "Total number of HTTP requests received.",
		},
		[]string{"handler", "method", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webtest_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)
)

func init() {
	prometheus.MustRegister(TestRunsTotal)
	prometheus.MustRegister(StepsTotal)
	prometheus.MustRegister(ResolutionsTotal)
	prometheus.MustRegister(BatchesTotal)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware instruments an HTTP handler under handlerName.
func Middleware(handlerName string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		httpRequestsTotal.WithLabelValues(handlerName, r.Method, fmt.Sprintf("%d", rw.status)).Inc()
		httpRequestDuration.WithLabelValues(handlerName, r.Method).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
