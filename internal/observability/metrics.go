package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	readingsTotal     *prometheus.CounterVec
	rejectionsTotal   *prometheus.CounterVec
	priceIntervals    prometheus.Counter
	daysFinalized     prometheus.Counter
	auditEmitFailures prometheus.Counter
	priceCacheLookups *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and domain collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fuelsync_http_requests_total",
		Help: "HTTP requests partitioned by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fuelsync_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	readings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fuelsync_readings_total",
		Help: "Persisted nozzle readings partitioned by classification.",
	}, []string{"kind"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fuelsync_rejections_total",
		Help: "Rejected write operations partitioned by operation and error code.",
	}, []string{"operation", "code"})
	intervals := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fuelsync_price_intervals_created_total",
		Help: "Fuel price intervals created.",
	})
	finalized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fuelsync_days_finalized_total",
		Help: "Station days finalized.",
	})
	auditFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fuelsync_audit_emit_failures_total",
		Help: "Audit events that could not be handed to the queue after commit.",
	})
	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fuelsync_price_cache_lookups_total",
		Help: "Effective price cache lookups partitioned by result.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, readings, rejections, intervals, finalized, auditFailures, cacheLookups)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		readingsTotal:     readings,
		rejectionsTotal:   rejections,
		priceIntervals:    intervals,
		daysFinalized:     finalized,
		auditEmitFailures: auditFailures,
		priceCacheLookups: cacheLookups,
	}
}

// Handler returns the http.Handler serving /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveReading counts a persisted reading of the given kind.
func (m *Metrics) ObserveReading(kind string) {
	if m == nil {
		return
	}
	m.readingsTotal.WithLabelValues(kind).Inc()
}

// ObserveRejection counts a failed write by operation and error code.
func (m *Metrics) ObserveRejection(operation, code string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(operation, code).Inc()
}

// ObservePriceInterval counts a created price interval.
func (m *Metrics) ObservePriceInterval() {
	if m == nil {
		return
	}
	m.priceIntervals.Inc()
}

// ObserveDayFinalized counts a finalized station day.
func (m *Metrics) ObserveDayFinalized() {
	if m == nil {
		return
	}
	m.daysFinalized.Inc()
}

// ObserveAuditEmitFailure counts an audit event dropped after commit.
func (m *Metrics) ObserveAuditEmitFailure() {
	if m == nil {
		return
	}
	m.auditEmitFailures.Inc()
}

// ObservePriceCache counts a cache lookup; result is "hit" or "miss".
func (m *Metrics) ObservePriceCache(result string) {
	if m == nil {
		return
	}
	m.priceCacheLookups.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
