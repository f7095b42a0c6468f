package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the HTTP surface and billing operations.
type Metrics struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	documentsCreated   *prometheus.CounterVec
	statusChanges      *prometheus.CounterVec
	allocationFailures *prometheus.CounterVec
	conversions        *prometheus.CounterVec
	reportCache        *prometheus.CounterVec
}

// NewMetrics initialises the registry and collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_http_requests_total",
		Help: "HTTP requests partitioned by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	created := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_documents_created_total",
		Help: "Documents created partitioned by kind.",
	}, []string{"kind"})
	statuses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_document_status_changes_total",
		Help: "Lifecycle transitions partitioned by kind and target status.",
	}, []string{"kind", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_sequence_allocation_failures_total",
		Help: "Failed document number allocations partitioned by kind.",
	}, []string{"kind"})
	conversions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_quote_conversions_total",
		Help: "Quote to invoice conversion attempts partitioned by result.",
	}, []string{"result"})
	reportCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_report_cache_total",
		Help: "Profit and loss report cache lookups partitioned by outcome.",
	}, []string{"outcome"})
	registry.MustRegister(requests, duration, created, statuses, failures, conversions, reportCache)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		documentsCreated:   created,
		statusChanges:      statuses,
		allocationFailures: failures,
		conversions:        conversions,
		reportCache:        reportCache,
	}
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counts and durations.
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

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// DocumentCreated counts a stored document.
func (m *Metrics) DocumentCreated(kind string) {
	if m == nil {
		return
	}
	m.documentsCreated.WithLabelValues(kind).Inc()
}

// StatusChanged counts a lifecycle transition.
func (m *Metrics) StatusChanged(kind, status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(kind, status).Inc()
}

// AllocationFailed counts a failed number allocation.
func (m *Metrics) AllocationFailed(kind string) {
	if m == nil {
		return
	}
	m.allocationFailures.WithLabelValues(kind).Inc()
}

// Conversion counts a conversion attempt by result.
func (m *Metrics) Conversion(result string) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(result).Inc()
}

// ReportCache counts a report cache hit or miss.
func (m *Metrics) ReportCache(outcome string) {
	if m == nil {
		return
	}
	m.reportCache.WithLabelValues(outcome).Inc()
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
