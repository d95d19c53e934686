// Package scoring turns collected stats into an AuditReport.
//
// Score is a pure function: identical inputs yield a field-for-field identical
// report, which is what makes the report digest meaningful.
package scoring

import (
	"fmt"
	"sort"
	"time"

	"civicwatch/internal/integrity/models"
	id "civicwatch/pkg/domain"
)

const (
	baseline = 100

	anomalyWeight  = 2
	anomalyCap     = 30
	staleCap       = 20
	pendingAIDiv   = 2
	pendingAICap   = 15
	stabilityScale = 3

	lowRiskFloor    = 67
	mediumRiskFloor = 34

	// nullAnomalyEquivalent is the smallest anomaly count that reaches the
	// anomaly penalty cap; a missing count is scored as this many.
	nullAnomalyEquivalent = anomalyCap / anomalyWeight

	// countCeiling saturates every penalty; larger counts are clamped to it
	// before any multiplication.
	countCeiling = 1 << 20
)

// Issue thresholds.
const (
	anomalySpikeAbove     = 50
	anomalyElevatedAbove  = 10
	instabilityBelow      = 50
	staleProfilesAbove    = 20
	regressionAtOrBelow   = -10
	complaintBacklogAbove = 100
	aiBacklogAbove        = 30
)

// Input is everything a report is a function of.
type Input struct {
	GeneratedAt time.Time
	Tenant      id.TenantID
	Stats       models.RawStats
	// Previous is the tenant's most recent snapshot, nil when none exists.
	Previous *models.Snapshot
}

// Score computes the report for in.
func Score(in Input) models.AuditReport {
	health := HealthScore(in.Stats.PendingAI, in.Stats.VoteAnomalies, in.Stats.StaleProfiles)
	stability := Stability(in.Stats.VoteAnomalies)

	projected := stability
	drift := 0
	if in.Previous != nil {
		projected = clamp(stability + (stability - in.Previous.Report.Stats.GovernanceStability))
		drift = health - in.Previous.HealthScore
	}

	stats := models.Stats{
		PendingAI:           copyInt(in.Stats.PendingAI),
		VoteAnomalies:       copyInt(in.Stats.VoteAnomalies),
		StaleProfiles:       copyInt(in.Stats.StaleProfiles),
		OpenComplaints:      copyInt(in.Stats.OpenComplaints),
		GovernanceStability: stability,
		ProjectedStability:  projected,
		HealthDrift:         drift,
		StateHealth:         regionHealth(in.Stats.Regions),
	}

	return models.AuditReport{
		Schema:      models.ReportSchema,
		Tenant:      in.Tenant,
		GeneratedAt: in.GeneratedAt.UTC().Truncate(time.Millisecond),
		HealthScore: health,
		RiskLevel:   RiskFor(health),
		Issues:      issuesFor(stats),
		Stats:       stats,
	}
}

// HealthScore applies the penalty formula. A nil input costs its full cap.
func HealthScore(pendingAI, voteAnomalies, staleProfiles *int) int {
	score := baseline
	score -= penalty(voteAnomalies, anomalyCap, func(v int) int { return v * anomalyWeight })
	score -= penalty(staleProfiles, staleCap, func(v int) int { return v })
	score -= penalty(pendingAI, pendingAICap, func(v int) int { return v / pendingAIDiv })
	return clamp(score)
}

// RiskFor maps a health score to its bucket: 67 and up is low, 34..66 is
// medium, 33 and below is high.
func RiskFor(healthScore int) models.RiskLevel {
	switch {
	case healthScore >= lowRiskFloor:
		return models.RiskLow
	case healthScore >= mediumRiskFloor:
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}

// Stability is 100 - 3*voteAnomalies clamped to [0,100].
func Stability(voteAnomalies *int) int {
	a := nullAnomalyEquivalent
	if voteAnomalies != nil {
		a = boundCount(*voteAnomalies)
	}
	return clamp(baseline - a*stabilityScale)
}

func penalty(v *int, limit int, raw func(int) int) int {
	if v == nil {
		return limit
	}
	return min(raw(boundCount(*v)), limit)
}

func boundCount(v int) int {
	return min(max(v, 0), countCeiling)
}

func regionHealth(regions []models.RegionStats) []models.RegionHealth {
	out := make([]models.RegionHealth, 0, len(regions))
	for _, r := range regions {
		if r.State == "" {
			continue
		}
		if r.PendingAI == nil && r.VoteAnomalies == nil && r.StaleProfiles == nil {
			continue
		}
		out = append(out, models.RegionHealth{
			State:       r.State,
			HealthScore: HealthScore(r.PendingAI, r.VoteAnomalies, r.StaleProfiles),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].State < out[j].State })
	return out
}

func issuesFor(s models.Stats) []models.Issue {
	issues := make([]models.Issue, 0)
	add := func(code string, sev models.Severity, format string, args ...any) {
		issues = append(issues, models.Issue{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	if a := s.VoteAnomalies; a != nil {
		switch {
		case *a > anomalySpikeAbove:
			add("vote_anomaly_spike", models.SeverityHigh, "%d vote bursts detected, above %d", *a, anomalySpikeAbove)
		case *a > anomalyElevatedAbove:
			add("vote_anomaly_elevated", models.SeverityMedium, "%d vote bursts detected, above %d", *a, anomalyElevatedAbove)
		}
	}
	if s.GovernanceStability < instabilityBelow {
		add("governance_instability", models.SeverityHigh, "governance stability %d is below %d", s.GovernanceStability, instabilityBelow)
	}
	if p := s.StaleProfiles; p != nil && *p > staleProfilesAbove {
		add("stale_profiles", models.SeverityMedium, "%d profiles not updated within the staleness threshold", *p)
	}
	if s.HealthDrift <= regressionAtOrBelow {
		add("health_regression", models.SeverityMedium, "health score dropped by %d since the previous snapshot", -s.HealthDrift)
	}
	if c := s.OpenComplaints; c != nil && *c > complaintBacklogAbove {
		add("complaint_backlog", models.SeverityMedium, "%d complaints open, above %d", *c, complaintBacklogAbove)
	}
	if p := s.PendingAI; p != nil && *p > aiBacklogAbove {
		add("ai_backlog", models.SeverityLow, "%d profiles awaiting AI narrative, above %d", *p, aiBacklogAbove)
	}

	for _, f := range []struct {
		code, msg string
		v         *int
	}{
		{"pending_ai_unavailable", "pending AI count unavailable, scored at its penalty cap", s.PendingAI},
		{"vote_anomalies_unavailable", "vote anomaly count unavailable, scored at its penalty cap", s.VoteAnomalies},
		{"stale_profiles_unavailable", "stale profile count unavailable, scored at its penalty cap", s.StaleProfiles},
		{"open_complaints_unavailable", "open complaint count unavailable", s.OpenComplaints},
	} {
		if f.v == nil {
			add(f.code, models.SeverityMedium, "%s", f.msg)
		}
	}

	sort.SliceStable(issues, func(i, j int) bool {
		ri, rj := issues[i].Severity.Rank(), issues[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return issues[i].Code < issues[j].Code
	})
	return issues
}

func clamp(v int) int {
	return min(max(v, 0), baseline)
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
