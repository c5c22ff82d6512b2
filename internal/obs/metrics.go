package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Verification metrics
var (
	verifyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openway_verify_decisions_total",
			Help: "Verification decisions by decision and reason code.",
		},
		[]string{"decision", "reason"},
	)

	verifyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "openway_verify_duration_seconds",
		Help:    "Wall time of one verification, audit insert included.",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	auditFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "openway_audit_record_failures_total",
		Help: "Audit events that could not be persisted.",
	})

	storeFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openway_store_faults_total",
			Help: "Store errors hit while evaluating a verification, by stage.",
		},
		[]string{"stage"},
	)

	rateLimitBackendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "openway_ratelimit_backend_errors_total",
		Help: "Shared rate limit backend errors that fell back to the local limiter.",
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			verifyDecisions, verifyDuration, auditFailures, storeFaults, rateLimitBackendErrors,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveVerify counts one decision and its latency.
func ObserveVerify(decision, reason string, d time.Duration) {
	verifyDecisions.WithLabelValues(decision, reason).Inc()
	verifyDuration.Observe(d.Seconds())
}

// PrimeVerify creates the decision/reason series at zero so dashboards see
// every outcome before it first happens.
func PrimeVerify(decision, reason string) {
	verifyDecisions.WithLabelValues(decision, reason)
}

// AuditRecordFailed counts an audit event lost to a persistence error.
func AuditRecordFailed() { auditFailures.Inc() }

// StoreFault counts a store error at the given pipeline stage.
func StoreFault(stage string) { storeFaults.WithLabelValues(stage).Inc() }

// RateLimitBackendError counts a shared limiter error.
func RateLimitBackendError() { rateLimitBackendErrors.Inc() }

var knownPaths = map[string]struct{}{
	"/verify":               {},
	"/api/v1/access/verify": {},
	"/health":               {},
	"/healthz":              {},
	"/ready":                {},
	"/readyz":               {},
	"/metrics":              {},
	"/admin/audit/purge":    {},
}

// CanonicalPath maps a request path to a bounded label value.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if _, ok := knownPaths[path]; ok || path == "/" {
		return path
	}
	return "other"
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
