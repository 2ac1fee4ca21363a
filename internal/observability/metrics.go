// Package observability holds the Prometheus metrics exported by the service.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the service's metric set. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	scores       *prometheus.CounterVec
	scoreValues  prometheus.Histogram
	fraudChecks  *prometheus.CounterVec
	collusion    *prometheus.CounterVec
	riskAlerts   *prometheus.CounterVec
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	eventsFailed *prometheus.CounterVec
}

// NewMetrics creates the metric set on its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caretrust_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caretrust_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		scores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caretrust_scores_computed_total",
			Help: "Total scores computed by risk band.",
		}, []string{"band"}),
		scoreValues: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "caretrust_score_value",
			Help:    "Distribution of computed scores.",
			Buckets: prometheus.LinearBuckets(100, 100, 10),
		}),
		fraudChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caretrust_fraud_assessments_total",
			Help: "Total activity fraud assessments by recommendation.",
		}, []string{"recommendation"}),
		collusion: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caretrust_collusion_flags_total",
			Help: "Total collusion flags raised on testimonies by type.",
		}, []string{"type"}),
		riskAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caretrust_risk_alerts_total",
			Help: "Total risk alerts raised by factor.",
		}, []string{"factor"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caretrust_cache_hits_total",
			Help: "Total score cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caretrust_cache_misses_total",
			Help: "Total score cache misses.",
		}),
		eventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caretrust_event_publish_errors_total",
			Help: "Total event bus publish failures by topic.",
		}, []string{"topic"}),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.scores,
		m.scoreValues,
		m.fraudChecks,
		m.collusion,
		m.riskAlerts,
		m.cacheHits,
		m.cacheMisses,
		m.eventsFailed,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ScoreComputed records a computed score.
func (m *Metrics) ScoreComputed(band string, score int) {
	if m == nil {
		return
	}
	m.scores.WithLabelValues(band).Inc()
	m.scoreValues.Observe(float64(score))
}

// FraudAssessed records an activity fraud assessment.
func (m *Metrics) FraudAssessed(recommendation string) {
	if m == nil {
		return
	}
	m.fraudChecks.WithLabelValues(recommendation).Inc()
}

// CollusionFlagged records a collusion flag on a testimony.
func (m *Metrics) CollusionFlagged(flagType string) {
	if m == nil {
		return
	}
	m.collusion.WithLabelValues(flagType).Inc()
}

// RiskAlert records a risk alert.
func (m *Metrics) RiskAlert(factor string) {
	if m == nil {
		return
	}
	m.riskAlerts.WithLabelValues(factor).Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// PublishFailed records an event that could not be published.
func (m *Metrics) PublishFailed(topic string) {
	if m == nil {
		return
	}
	m.eventsFailed.WithLabelValues(topic).Inc()
}
