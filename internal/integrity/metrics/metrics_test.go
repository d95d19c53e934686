package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncVoteRejected("already_voted")
	m.IncVoteRejected("already_voted")
	m.IncVoteAccepted()
	m.SetHealthScore("", 88)
	m.IncAnchorOutcome("anchored")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.VotesRejected.WithLabelValues("already_voted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesAccepted))
	assert.Equal(t, 88.0, testutil.ToFloat64(m.HealthScore.WithLabelValues("platform")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnchorOutcomes.WithLabelValues("anchored")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncAuditRun("ok")
		m.ObserveAuditDuration(time.Second)
		m.SetHealthScore("t", 1)
		m.IncCondition("x")
		m.ObserveCollectLatency("registry", time.Millisecond)
		m.IncAnchorOutcome("failed")
		m.IncVoteAccepted()
		m.IncVoteRejected("rate_limit_exceeded")
		m.ObserveCastDuration(time.Millisecond)
	})
}
