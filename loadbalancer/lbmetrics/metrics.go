// Package lbmetrics exposes the load balancer's optional Prometheus
// metrics surface, following the same "collaborator injected through
// Options, nil-safe" convention skipper's routing and proxy packages use
// for their own optional metrics collector.
package lbmetrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "loadbalancer"

// Metrics is the load balancer's metrics surface. A nil *Metrics is valid
// everywhere it is used: every method is a no-op on a nil receiver.
type Metrics struct {
	hostsByState    *prometheus.GaugeVec
	batchesApplied  prometheus.Counter
	resubscribes    prometheus.Counter
	buildLatency    prometheus.Histogram
	probeOutcomes   *prometheus.CounterVec
	selectNoActive  prometheus.Counter
}

// New creates the metrics and registers them with reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the default
// registry, matching the teacher's test conventions.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hostsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hosts",
			Help:      "Current number of hosts per health state.",
		}, []string{"state"}),
		batchesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sd_batches_applied_total",
			Help:      "Total number of service discovery batches reconciled.",
		}),
		resubscribes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resubscribes_total",
			Help:      "Total number of service discovery resubscribes triggered.",
		}),
		buildLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_build_duration_seconds",
			Help:      "Latency of connection factory builds.",
			Buckets:   prometheus.DefBuckets,
		}),
		probeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_outcomes_total",
			Help:      "Total number of health probe outcomes.",
		}, []string{"outcome"}),
		selectNoActive: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "select_no_active_host_total",
			Help:      "Total number of selections that failed with no active host.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.hostsByState,
			m.batchesApplied,
			m.resubscribes,
			m.buildLatency,
			m.probeOutcomes,
			m.selectNoActive,
		)
	}

	return m
}

func (m *Metrics) SetHostsByState(counts map[string]int) {
	if m == nil {
		return
	}
	for state, n := range counts {
		m.hostsByState.WithLabelValues(state).Set(float64(n))
	}
}

func (m *Metrics) IncBatchesApplied() {
	if m == nil {
		return
	}
	m.batchesApplied.Inc()
}

func (m *Metrics) IncResubscribes() {
	if m == nil {
		return
	}
	m.resubscribes.Inc()
}

func (m *Metrics) ObserveBuildLatencySeconds(seconds float64) {
	if m == nil {
		return
	}
	m.buildLatency.Observe(seconds)
}

func (m *Metrics) IncProbeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.probeOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSelectNoActiveHost() {
	if m == nil {
		return
	}
	m.selectNoActive.Inc()
}
