package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EvalMetrics bundles the Prometheus collectors a Pipeline reports against.
// A nil *EvalMetrics is safe to use: every method no-ops.
type EvalMetrics struct {
	errors    *prometheus.CounterVec
	inflight  prometheus.Gauge
	evalTime  prometheus.Histogram
	rulesLoad *prometheus.GaugeVec
}

// NewEvalMetrics registers collectors against reg. Pass prometheus.NewRegistry()
// in tests to avoid colliding with the default registry across runs.
func NewEvalMetrics(reg prometheus.Registerer) *EvalMetrics {
	m := &EvalMetrics{
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigmastream_errors_total",
			Help: "Count of pipeline errors by kind.",
		}, []string{"kind"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigmastream_inflight_events",
			Help: "Events currently in flight through the worker pool.",
		}),
		evalTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigmastream_eval_duration_seconds",
			Help:    "Ruleset evaluation latency per event.",
			Buckets: prometheus.DefBuckets,
		}),
		rulesLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigmastream_rules_total",
			Help: "Rule counts by load status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.errors, m.inflight, m.evalTime, m.rulesLoad)
	}
	return m
}

// IncError increments the error counter for kind (e.g. "decode", "timeout",
// "sink").
func (m *EvalMetrics) IncError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// SetInflight records the current in-flight event count.
func (m *EvalMetrics) SetInflight(n int64) {
	if m == nil {
		return
	}
	m.inflight.Set(float64(n))
}

// ObserveEval records one ruleset evaluation's duration in seconds.
func (m *EvalMetrics) ObserveEval(seconds float64) {
	if m == nil {
		return
	}
	m.evalTime.Observe(seconds)
}

// SetRuleCounts reports the ruleset's current load status breakdown.
func (m *EvalMetrics) SetRuleCounts(ok, failed, unsupported int) {
	if m == nil {
		return
	}
	m.rulesLoad.WithLabelValues("ok").Set(float64(ok))
	m.rulesLoad.WithLabelValues("failed").Set(float64(failed))
	m.rulesLoad.WithLabelValues("unsupported").Set(float64(unsupported))
}
