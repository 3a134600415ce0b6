package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the scanner and API.
type Metrics struct {
	ScansTotal        prometheus.Counter
	FailuresDetected  *prometheus.CounterVec
	FailuresPersisted prometheus.Counter
	FetchErrors       *prometheus.CounterVec
	StoreErrors       prometheus.Counter
	CacheHits         prometheus.Counter
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New registers and returns the application metrics.
func New() *Metrics {
	return &Metrics{
		ScansTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "breakoutwatch_scans_total",
			Help: "The total number of symbol scans executed",
		}),
		FailuresDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "breakoutwatch_failures_detected_total",
			Help: "The total number of breakout failures detected",
		}, []string{"location"}),
		FailuresPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "breakoutwatch_failures_persisted_total",
			Help: "The total number of failure records written to storage",
		}),
		FetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "breakoutwatch_fetch_errors_total",
			Help: "The total number of candle download errors",
		}, []string{"symbol"}),
		StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "breakoutwatch_store_errors_total",
			Help: "The total number of storage write errors",
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "breakoutwatch_candle_cache_hits_total",
			Help: "The total number of candle cache hits",
		}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "breakoutwatch_http_requests_total",
			Help: "The total number of HTTP requests served",
		}, []string{"method", "path", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "breakoutwatch_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency per method/path/status.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		status := strconv.Itoa(rw.statusCode)
		m.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(elapsed.Seconds())
	})
}
