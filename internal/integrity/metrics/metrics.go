package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the integrity engine and the vote guard.
// All methods are safe on a nil receiver.
type Metrics struct {
	// Audit runs by outcome: "ok", "degraded", "cancelled", "error"
	AuditRuns *prometheus.CounterVec

	AuditDuration prometheus.Histogram

	// Latest health score per tenant ("platform" for the platform-wide report)
	HealthScore *prometheus.GaugeVec

	// Non-fatal conditions attached to audit results
	Conditions *prometheus.CounterVec

	// Collaborator query latency by source
	CollectLatency *prometheus.HistogramVec

	// Anchor outcomes by status
	AnchorOutcomes *prometheus.CounterVec

	VotesAccepted prometheus.Counter

	// Rejected votes by reason
	VotesRejected *prometheus.CounterVec

	CastDuration prometheus.Histogram
}

// New registers the engine metrics with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		AuditRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civicwatch_audit_runs_total",
			Help: "Audit computations by outcome",
		}, []string{"outcome"}),

		AuditDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "civicwatch_audit_duration_seconds",
			Help:    "Duration of a full audit computation including collection and persistence",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		HealthScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "civicwatch_audit_health_score",
			Help: "Health score of the most recent audit per tenant",
		}, []string{"tenant"}),

		Conditions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civicwatch_audit_conditions_total",
			Help: "Non-fatal audit conditions by code",
		}, []string{"code"}),

		CollectLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "civicwatch_audit_collect_duration_seconds",
			Help:    "Duration of collaborator queries by source",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"source"}),

		AnchorOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civicwatch_anchor_outcomes_total",
			Help: "Digest anchor attempts by status",
		}, []string{"status"}),

		VotesAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "civicwatch_votes_accepted_total",
			Help: "Votes accepted by the integrity guard",
		}),

		VotesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civicwatch_votes_rejected_total",
			Help: "Votes rejected by the integrity guard by reason",
		}, []string{"reason"}),

		CastDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "civicwatch_vote_cast_duration_seconds",
			Help:    "Duration of the vote check-then-write transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncAuditRun(outcome string) {
	if m != nil {
		m.AuditRuns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveAuditDuration(d time.Duration) {
	if m != nil {
		m.AuditDuration.Observe(d.Seconds())
	}
}

// SetHealthScore records the latest score; tenant "" is reported as "platform".
func (m *Metrics) SetHealthScore(tenant string, score int) {
	if m == nil {
		return
	}
	if tenant == "" {
		tenant = "platform"
	}
	m.HealthScore.WithLabelValues(tenant).Set(float64(score))
}

func (m *Metrics) IncCondition(code string) {
	if m != nil {
		m.Conditions.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) ObserveCollectLatency(source string, d time.Duration) {
	if m != nil {
		m.CollectLatency.WithLabelValues(source).Observe(d.Seconds())
	}
}

func (m *Metrics) IncAnchorOutcome(status string) {
	if m != nil {
		m.AnchorOutcomes.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncVoteAccepted() {
	if m != nil {
		m.VotesAccepted.Inc()
	}
}

func (m *Metrics) IncVoteRejected(reason string) {
	if m != nil {
		m.VotesRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ObserveCastDuration(d time.Duration) {
	if m != nil {
		m.CastDuration.Observe(d.Seconds())
	}
}
