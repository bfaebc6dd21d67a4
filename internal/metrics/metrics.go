// Package metrics provides Prometheus metrics for the search core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Store metrics
	StoreQueriesTotal    *prometheus.CounterVec
	StoreDurationSeconds *prometheus.HistogramVec

	// Query planning metrics
	PlanDegradedTotal prometheus.Counter

	// Page cache metrics
	PageCacheHitsTotal   prometheus.Counter
	PageCacheMissesTotal prometheus.Counter

	// Recommendation metrics
	RecommendFetchesTotal *prometheus.CounterVec
	RecommendPoolSize     prometheus.Histogram

	// HTTP metrics
	HTTPErrorsTotal    *prometheus.CounterVec
	RateLimiterDropped prometheus.Counter

	// Session metrics
	SessionsActive prometheus.Gauge
}

// New creates a new Metrics instance with all metrics registered.
func New(registry *prometheus.Registry) *Metrics {
	return &Metrics{
		StoreQueriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kikidoko_store_queries_total",
				Help: "Total number of document store queries by component and status",
			},
			[]string{"component", "status"}, // status: success, missing_index, transient, other
		),

		StoreDurationSeconds: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kikidoko_store_duration_seconds",
				Help:    "Document store query duration in seconds by component",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"component"}, // component: pager, augmenter, recommend
		),

		PlanDegradedTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "kikidoko_plan_degraded_total",
				Help: "Total number of query plans degraded after a missing-index rejection",
			},
		),

		PageCacheHitsTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "kikidoko_page_cache_hits_total",
				Help: "Total number of page reads served from the page cache",
			},
		),

		PageCacheMissesTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "kikidoko_page_cache_misses_total",
				Help: "Total number of page reads that required a store fetch",
			},
		),

		RecommendFetchesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kikidoko_recommend_fetches_total",
				Help: "Total number of recommendation pool fetch stages by stage and status",
			},
			[]string{"stage", "status"},
		),

		RecommendPoolSize: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kikidoko_recommend_pool_size",
				Help:    "Recommendation pool size after a load",
				Buckets: []float64{0, 3, 6, 9, 12, 15, 20},
			},
		),

		HTTPErrorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kikidoko_http_errors_total",
				Help: "Total number of HTTP error responses by route and status code",
			},
			[]string{"route", "code"},
		),

		RateLimiterDropped: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "kikidoko_ratelimit_dropped_total",
				Help: "Total number of requests dropped by the rate limiter",
			},
		),

		SessionsActive: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "kikidoko_sessions_active",
				Help: "Number of live search sessions",
			},
		),
	}
}

// SetSessionsActive updates the live session gauge.
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

// RecordStoreQuery records one store query outcome. All recorders are
// nil-safe so components can run without metrics in tests.
func (m *Metrics) RecordStoreQuery(component, status string, seconds float64) {
	if m == nil {
		return
	}
	m.StoreQueriesTotal.WithLabelValues(component, status).Inc()
	m.StoreDurationSeconds.WithLabelValues(component).Observe(seconds)
}

// RecordPlanDegraded records one ordering-clause degradation.
func (m *Metrics) RecordPlanDegraded() {
	if m == nil {
		return
	}
	m.PlanDegradedTotal.Inc()
}

// RecordPageCacheHit records a page read served from cache.
func (m *Metrics) RecordPageCacheHit() {
	if m == nil {
		return
	}
	m.PageCacheHitsTotal.Inc()
}

// RecordPageCacheMiss records a page read that went to the store.
func (m *Metrics) RecordPageCacheMiss() {
	if m == nil {
		return
	}
	m.PageCacheMissesTotal.Inc()
}

// RecordRecommendFetch records one recommendation fetch stage outcome.
func (m *Metrics) RecordRecommendFetch(stage, status string) {
	if m == nil {
		return
	}
	m.RecommendFetchesTotal.WithLabelValues(stage, status).Inc()
}

// RecordRecommendPoolSize records the pool size after a load.
func (m *Metrics) RecordRecommendPoolSize(size int) {
	if m == nil {
		return
	}
	m.RecommendPoolSize.Observe(float64(size))
}

// RecordHTTPError records one HTTP error response.
func (m *Metrics) RecordHTTPError(route, code string) {
	if m == nil {
		return
	}
	m.HTTPErrorsTotal.WithLabelValues(route, code).Inc()
}

// RecordRateLimiterDrop records one rate-limited request.
func (m *Metrics) RecordRateLimiterDrop() {
	if m == nil {
		return
	}
	m.RateLimiterDropped.Inc()
}
