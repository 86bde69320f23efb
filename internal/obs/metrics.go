package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
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

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness check succeeded.",
	})
)

// Audit and session metrics.
var (
	AuditStatementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audit_statement_duration_seconds",
			Help:    "Latency of persistence calls observed by the audit wrapper.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	AuditRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_total",
			Help: "Persistence calls recorded, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	AuditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit records that could not be persisted.",
	})

	RevocationEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "revocation_entries",
		Help: "Revoked token digests held in memory.",
	})

	GateRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_gate_rejections_total",
			Help: "Requests rejected by the request gate, by error class.",
		},
		[]string{"class"},
	)
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
			AuditStatementDuration, AuditRecordsTotal, AuditWriteFailures,
			RevocationEntries, GateRejections,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// UnmatchedRoute labels requests that no route pattern matched.
const UnmatchedRoute = "unmatched"

// Instrument measures request count, latency and in-flight requests. It must
// be installed as chi router middleware: the path label is the matched route
// pattern, read after the request has been routed.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := UnmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" && !strings.HasSuffix(p, "/*") {
				route = p
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
