package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveUpstream("primary", "grounded", OutcomeOK, 120*time.Millisecond)
	m.ObserveUpstream("primary", "grounded", OutcomeOK, 80*time.Millisecond)
	m.ObserveUpstream("primary", "ungrounded", OutcomeRegion, time.Millisecond)
	m.CascadeAttempt("answer", "primary", OutcomeError)
	m.StreamEvent("answer_chunk")
	m.StreamEvent("answer_chunk")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.upstreamRequests.WithLabelValues("primary", "grounded", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamRequests.WithLabelValues("primary", "ungrounded", OutcomeRegion)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cascadeOutcomes.WithLabelValues("answer", "primary", OutcomeError)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.streamEvents.WithLabelValues("answer_chunk")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.upstreamLatency))
}

func TestActiveStreamsGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	done := m.StreamStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeStreams))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeStreams))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveUpstream("p", "stream", OutcomeOK, time.Second)
		m.CascadeAttempt("answer", "primary", OutcomeOK)
		m.StreamEvent("complete")
		m.StreamStarted()()
	})
}
