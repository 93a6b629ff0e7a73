// Package metrics exposes the engine's counters and histograms (C13) for
// textual scraping at a boundary endpoint.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxReasonCodeLabels bounds the number of distinct reason_code series the
// registry will create before folding additional codes into "other". Keeps
// label cardinality bounded per spec.md §7.
const maxReasonCodeLabels = 64

// Metrics owns the Prometheus registry and the counters/histograms named in
// spec.md §6.
type Metrics struct {
	registry *prometheus.Registry

	intentsTotal  *prometheus.CounterVec
	rejectsTotal  *prometheus.CounterVec
	capsDenied    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	mu          sync.Mutex
	knownCodes  map[string]struct{}
}

// New constructs and registers the metrics surface.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	intentsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_intents_total",
		Help: "Total intents processed, labeled by terminal or transient decision.",
	}, []string{"decision"})

	rejectsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_rejects_total",
		Help: "Total rejected intents, labeled by reason code.",
	}, []string{"reason_code"})

	capsDenied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caps_denied_total",
		Help: "Total capital precheck denials, labeled by reason.",
	}, []string{"reason"})

	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kestrel_stage_duration_seconds",
		Help:    "Duration of each pipeline stage in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	registry.MustRegister(intentsTotal, rejectsTotal, capsDenied, stageDuration)

	return &Metrics{
		registry:      registry,
		intentsTotal:  intentsTotal,
		rejectsTotal:  rejectsTotal,
		capsDenied:    capsDenied,
		stageDuration: stageDuration,
		knownCodes:    make(map[string]struct{}, maxReasonCodeLabels),
	}
}

// Handler returns the textual exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDecision increments kestrel_intents_total for the given decision
// (accepted, queued, rejected, throttled).
func (m *Metrics) RecordDecision(decision string) {
	m.intentsTotal.WithLabelValues(decision).Inc()
}

// RecordReject increments kestrel_rejects_total for a reason code, folding
// codes beyond the cardinality ceiling into "other".
func (m *Metrics) RecordReject(reasonCode string) {
	m.rejectsTotal.WithLabelValues(m.boundedLabel(reasonCode)).Inc()
}

// RecordCapDenied increments caps_denied_total for a capital policy reason.
func (m *Metrics) RecordCapDenied(reason string) {
	m.capsDenied.WithLabelValues(reason).Inc()
}

// ObserveStage records the duration of a named pipeline stage.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// boundedLabel caps the number of distinct label values ever emitted for
// reason codes, returning "other" once the ceiling is reached.
func (m *Metrics) boundedLabel(value string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.knownCodes[value]; ok {
		return value
	}
	if len(m.knownCodes) >= maxReasonCodeLabels {
		return "other"
	}
	m.knownCodes[value] = struct{}{}
	return value
}
