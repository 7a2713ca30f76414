package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lawchat"

// Outcome labels shared by the collectors.
const (
	OutcomeOK     = "ok"
	OutcomeError  = "error"
	OutcomeRegion = "region_restricted"
	OutcomeFatal  = "fatal"
)

// Metrics groups the gateway's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	cascadeOutcomes  *prometheus.CounterVec
	streamEvents     *prometheus.CounterVec
	activeStreams    prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Labels: provider, mode (grounded, ungrounded, stream), outcome
		upstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Upstream completion calls by provider, mode and outcome",
		}, []string{"provider", "mode", "outcome"}),

		upstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "latency_seconds",
			Help:      "Upstream completion call latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 90},
		}, []string{"provider", "mode"}),

		// Labels: operation (answer, stream), strategy, outcome
		cascadeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cascade",
			Name:      "attempts_total",
			Help:      "Fallback cascade strategy attempts by outcome",
		}, []string{"operation", "strategy", "outcome"}),

		streamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Downstream stream events written by type",
		}, []string{"type"}),

		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active",
			Help:      "Streams currently being relayed",
		}),
	}
}

// ObserveUpstream records one upstream call.
func (m *Metrics) ObserveUpstream(provider, mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(provider, mode, outcome).Inc()
	m.upstreamLatency.WithLabelValues(provider, mode).Observe(elapsed.Seconds())
}

// CascadeAttempt records the outcome of one cascade strategy.
func (m *Metrics) CascadeAttempt(operation, strategy, outcome string) {
	if m == nil {
		return
	}
	m.cascadeOutcomes.WithLabelValues(operation, strategy, outcome).Inc()
}

// StreamEvent counts one emitted stream event.
func (m *Metrics) StreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(eventType).Inc()
}

// StreamStarted increments the active stream gauge and returns the matching decrement.
func (m *Metrics) StreamStarted() func() {
	if m == nil {
		return func() {}
	}
	m.activeStreams.Inc()
	return m.activeStreams.Dec
}
