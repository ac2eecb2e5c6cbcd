package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-lesson-engine/internal/dto"
	"github.com/noah-isme/sma-lesson-engine/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	cacheLatency      prometheus.Observer
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	expansionDuration prometheus.Observer
	occurrences       prometheus.Counter
	skippedTemplates  prometheus.Counter
	upsertRetries     prometheus.Counter
	droppedExceptions prometheus.Counter
	auditFindings     *prometheus.CounterVec

	cacheHitCount      uint64
	cacheMissCount     uint64
	requestCount       uint64
	expansionCount     uint64
	skippedCount       uint64
	retryCount         uint64
	auditFindingsCount uint64
}

// NewMetricsService registers the HTTP and occurrence engine collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "occurrence_cache_latency_seconds",
		Help:    "Latency for occurrence cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "occurrence_cache_hits_total",
		Help: "Occurrence cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "occurrence_cache_misses_total",
		Help: "Occurrence cache misses",
	})

	expansionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "occurrence_window_duration_seconds",
		Help:    "Time spent resolving one calendar window",
		Buckets: prometheus.DefBuckets,
	})

	occurrences := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "occurrences_resolved_total",
		Help: "Occurrences returned by calendar windows",
	})

	skippedTemplates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "occurrence_templates_skipped_total",
		Help: "Templates left out of a window because they could not be expanded",
	})

	upsertRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lesson_exception_upsert_retries_total",
		Help: "Exception upserts retried after losing a concurrent insert",
	})

	droppedExceptions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lesson_exceptions_dropped_total",
		Help: "Exceptions removed by series edits and deletes",
	})

	auditFindings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lesson_attendance_audit_findings_total",
		Help: "Invalid attendance records found by audit sweeps",
	}, []string{"reason"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheHits, cacheMisses, expansionDuration,
		occurrences, skippedTemplates, upsertRetries, droppedExceptions, auditFindings, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		expansionDuration: expansionDuration,
		occurrences:       occurrences,
		skippedTemplates:  skippedTemplates,
		upsertRetries:     upsertRetries,
		droppedExceptions: droppedExceptions,
		auditFindings:     auditFindings,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// RecordCacheOperation records an occurrence cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
		return
	}
	m.cacheMisses.Inc()
	atomic.AddUint64(&m.cacheMissCount, 1)
}

// ObserveWindow records one resolved calendar window.
func (m *MetricsService) ObserveWindow(occurrences, skipped int, duration time.Duration) {
	if m == nil {
		return
	}
	m.expansionDuration.Observe(duration.Seconds())
	m.occurrences.Add(float64(occurrences))
	m.skippedTemplates.Add(float64(skipped))
	atomic.AddUint64(&m.expansionCount, 1)
	atomic.AddUint64(&m.skippedCount, uint64(skipped))
}

// RecordUpsertRetry counts an exception upsert that lost a race and retried.
func (m *MetricsService) RecordUpsertRetry() {
	if m == nil {
		return
	}
	m.upsertRetries.Inc()
	atomic.AddUint64(&m.retryCount, 1)
}

// RecordDroppedExceptions counts exceptions removed by a series mutation.
func (m *MetricsService) RecordDroppedExceptions(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedExceptions.Add(float64(n))
}

// RecordAuditFinding counts one invalid attendance record.
func (m *MetricsService) RecordAuditFinding(reason models.AttendanceReason) {
	if m == nil {
		return
	}
	m.auditFindings.WithLabelValues(string(reason)).Inc()
	atomic.AddUint64(&m.auditFindingsCount, 1)
}

// Snapshot returns aggregated counters for the summary endpoint.
func (m *MetricsService) Snapshot() dto.MetricsSnapshot {
	if m == nil {
		return dto.MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)

	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}

	return dto.MetricsSnapshot{
		RequestsTotal:    atomic.LoadUint64(&m.requestCount),
		WindowsResolved:  atomic.LoadUint64(&m.expansionCount),
		TemplatesSkipped: atomic.LoadUint64(&m.skippedCount),
		UpsertRetries:    atomic.LoadUint64(&m.retryCount),
		AuditFindings:    atomic.LoadUint64(&m.auditFindingsCount),
		CacheHits:        hits,
		CacheMisses:      misses,
		CacheHitRatio:    ratio,
		Goroutines:       runtime.NumGoroutine(),
		GeneratedAt:      time.Now().UTC(),
	}
}
