package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/fleet-trip-api/internal/models"
)

const metricsNamespace = "fleet"

// MetricsSnapshot is the JSON view served on /admin/metrics.
type MetricsSnapshot struct {
	HTTPRequests      uint64            `json:"httpRequests"`
	AvgLatencyMs      float64           `json:"avgLatencyMs"`
	HistoryCacheHits  uint64            `json:"historyCacheHits"`
	HistoryCacheMiss  uint64            `json:"historyCacheMisses"`
	HistoryCacheRatio float64           `json:"historyCacheHitRatio"`
	EditRequests      map[string]uint64 `json:"editRequests"`
	TripEdits         map[string]uint64 `json:"tripEdits"`
	RetentionRuns     uint64            `json:"retentionRuns"`
	RetentionFailures uint64            `json:"retentionFailures"`
	Goroutines        int               `json:"goroutines"`
	GeneratedAt       time.Time         `json:"generatedAt"`
}

// counterSet keeps plain counters alongside Prometheus so the admin snapshot
// does not have to scrape the registry.
type counterSet struct {
	values map[string]*uint64
}

func newCounterSet(keys ...string) counterSet {
	s := counterSet{values: make(map[string]*uint64, len(keys))}
	for _, key := range keys {
		s.values[key] = new(uint64)
	}
	return s
}

func (s counterSet) inc(key string) {
	if v, ok := s.values[key]; ok {
		atomic.AddUint64(v, 1)
	}
}

func (s counterSet) snapshot() map[string]uint64 {
	out := make(map[string]uint64, len(s.values))
	for key, v := range s.values {
		out[key] = atomic.LoadUint64(v)
	}
	return out
}

// MetricsService owns the Prometheus registry for the API. Every method is safe
// on a nil receiver so tests and tools can run without metrics.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	httpDuration    *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	cacheDuration   *prometheus.HistogramVec
	editRequests    *prometheus.CounterVec
	tripEdits       *prometheus.CounterVec
	retentionPurged *prometheus.CounterVec
	retentionRuns   *prometheus.CounterVec

	httpCount   uint64
	httpNanos   uint64
	cacheHits   uint64
	cacheMisses uint64
	sweeps      uint64
	sweepFails  uint64
	actions     counterSet
	sources     counterSet
}

// NewMetricsService builds a private registry with Go runtime collectors and
// the trip API metrics.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &MetricsService{
		registry: registry,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route template.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "history_cache_lookups_total",
			Help:      "History cache lookups by result.",
		}, []string{"result"}),
		cacheDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "history_cache_duration_seconds",
			Help:      "History cache round trips by operation.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"op"}),
		editRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "edit_requests_total",
			Help:      "Edit request transitions by action.",
		}, []string{"action"}),
		tripEdits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "trip_edits_total",
			Help:      "Trip edits written to history by source.",
		}, []string{"source"}),
		retentionPurged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retention_purged_rows_total",
			Help:      "Rows removed by the retention sweep.",
		}, []string{"kind"}),
		retentionRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retention_runs_total",
			Help:      "Retention sweeps by outcome.",
		}, []string{"outcome"}),
		actions: newCounterSet(editRequestSubmitted, editRequestCancelled,
			string(models.EditRequestApproved), string(models.EditRequestRejected)),
		sources: newCounterSet(string(models.HistorySourceDirect), string(models.HistorySourceApproval)),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

// ObserveHTTPRequest records one served request under its route template.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
	atomic.AddUint64(&m.httpCount, 1)
	atomic.AddUint64(&m.httpNanos, uint64(duration))
}

// RecordCacheOperation records a history cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
		atomic.AddUint64(&m.cacheHits, 1)
	} else {
		atomic.AddUint64(&m.cacheMisses, 1)
	}
	m.cacheLookups.WithLabelValues(result).Inc()
	m.cacheDuration.WithLabelValues("get").Observe(duration.Seconds())
}

// ObserveCacheWrite records a history cache write.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheDuration.WithLabelValues("set").Observe(duration.Seconds())
}

// RecordEditRequest counts submitted, cancelled, approved and rejected requests.
func (m *MetricsService) RecordEditRequest(action string) {
	if m == nil {
		return
	}
	m.editRequests.WithLabelValues(action).Inc()
	m.actions.inc(action)
}

// RecordTripEdit counts a trip edit by where it came from.
func (m *MetricsService) RecordTripEdit(source models.HistorySource) {
	if m == nil {
		return
	}
	m.tripEdits.WithLabelValues(string(source)).Inc()
	m.sources.inc(string(source))
}

// RecordRetentionPurge counts rows removed by a sweep.
func (m *MetricsService) RecordRetentionPurge(kind string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.retentionPurged.WithLabelValues(kind).Add(float64(rows))
}

// RecordRetentionRun counts a finished sweep attempt.
func (m *MetricsService) RecordRetentionRun(err error) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sweeps, 1)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		atomic.AddUint64(&m.sweepFails, 1)
	}
	m.retentionRuns.WithLabelValues(outcome).Inc()
}

// Snapshot returns the counters behind /admin/metrics.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{GeneratedAt: time.Now().UTC()}
	}
	requests := atomic.LoadUint64(&m.httpCount)
	hits := atomic.LoadUint64(&m.cacheHits)
	misses := atomic.LoadUint64(&m.cacheMisses)

	snap := MetricsSnapshot{
		HTTPRequests:      requests,
		HistoryCacheHits:  hits,
		HistoryCacheMiss:  misses,
		EditRequests:      m.actions.snapshot(),
		TripEdits:         m.sources.snapshot(),
		RetentionRuns:     atomic.LoadUint64(&m.sweeps),
		RetentionFailures: atomic.LoadUint64(&m.sweepFails),
		Goroutines:        runtime.NumGoroutine(),
		GeneratedAt:       time.Now().UTC(),
	}
	if requests > 0 {
		snap.AvgLatencyMs = float64(atomic.LoadUint64(&m.httpNanos)) / float64(requests) / float64(time.Millisecond)
	}
	if total := hits + misses; total > 0 {
		snap.HistoryCacheRatio = float64(hits) / float64(total)
	}
	return snap
}
