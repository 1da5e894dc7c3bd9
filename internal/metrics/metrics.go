// Package metrics exposes admission counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Outcome labels
const (
	ResultAllowed  = "allowed"
	ResultRejected = "rejected"
	ResultFailOpen = "fail_open"
	ResultError    = "error"
	ResultNoRule   = "no_rule"
)

type Metrics struct {
	registry *prometheus.Registry

	decisions     *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec
	trackedKeys   *prometheus.GaugeVec
	breakerState  *prometheus.GaugeVec
	rulesLoaded   prometheus.Gauge
	ruleReloads   *prometheus.CounterVec
}

// New registers every collector on a fresh registry, plus the Go and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Admission decisions by rule, algorithm, mode and result.",
		}, []string{"rule", "algorithm", "mode", "result"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "check_duration_seconds",
			Help:      "Latency of admission checks.",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"mode"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordination",
			Name:      "errors_total",
			Help:      "Failed coordination store calls by operation.",
		}, []string{"operation"}),
		trackedKeys: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "tracked_keys",
			Help:      "In-memory limiter keys per rule.",
		}, []string{"rule"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordination",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"breaker"}),
		rulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "loaded",
			Help:      "Rules currently live.",
		}),
		ruleReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "reloads_total",
			Help:      "Rule reloads by source and result.",
		}, []string{"source", "result"}),
	}

	reg.MustRegister(m.decisions, m.checkDuration, m.storeErrors, m.trackedKeys, m.breakerState, m.rulesLoaded, m.ruleReloads)
	return m
}

func mode(distributed bool) string {
	if distributed {
		return "distributed"
	}
	return "local"
}

func (m *Metrics) ObserveDecision(ruleID, algorithm string, distributed bool, result string) {
	m.decisions.WithLabelValues(ruleID, algorithm, mode(distributed), result).Inc()
}

func (m *Metrics) ObserveCheckDuration(distributed bool, seconds float64) {
	m.checkDuration.WithLabelValues(mode(distributed)).Observe(seconds)
}

func (m *Metrics) ObserveStoreError(operation string) {
	m.storeErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) SetTrackedKeys(ruleID string, keys int) {
	m.trackedKeys.WithLabelValues(ruleID).Set(float64(keys))
}

// Drops gauges for rules that no longer exist
func (m *Metrics) ResetTrackedKeys() {
	m.trackedKeys.Reset()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) SetRulesLoaded(n int) {
	m.rulesLoaded.Set(float64(n))
}

func (m *Metrics) ObserveRuleReload(source string, err error) {
	m.ruleReloads.WithLabelValues(source, strconv.FormatBool(err == nil)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
