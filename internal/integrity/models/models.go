// Package models holds the value types of the governance integrity engine.
//
// AuditReport and everything it contains are treated as immutable once the
// scoring engine returns them; the digest covers every exported field.
package models

import (
	"time"

	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
)

// ReportSchema tags the canonical form so digests of different report
// generations never collide.
const ReportSchema = "governance-audit/v1"

// RiskLevel is the discrete classification derived from a health score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

func (r RiskLevel) String() string { return string(r) }

// Severity ranks an issue. Higher rank sorts first.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank returns 3 for high, 2 for medium, 1 for low and 0 for anything else.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Issue is one breached threshold in a report.
type Issue struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// RegionHealth is the health score of one region computed from that region's
// stats only.
type RegionHealth struct {
	State       string `json:"state"`
	HealthScore int    `json:"healthScore"`
}

// Stats is the stats block of a report. Nil pointers are inputs whose
// collaborator was unavailable when the report was computed.
type Stats struct {
	PendingAI           *int           `json:"pendingAI"`
	VoteAnomalies       *int           `json:"voteAnomalies"`
	StaleProfiles       *int           `json:"staleProfiles"`
	OpenComplaints      *int           `json:"openComplaints"`
	GovernanceStability int            `json:"governanceStability"`
	ProjectedStability  int            `json:"projectedStability"`
	HealthDrift         int            `json:"healthDrift"`
	StateHealth         []RegionHealth `json:"stateHealth"`
}

// AuditReport is the output of one scoring run.
type AuditReport struct {
	Schema      string      `json:"schema"`
	Tenant      id.TenantID `json:"tenant"`
	GeneratedAt time.Time   `json:"generatedAt"`
	HealthScore int         `json:"healthScore"`
	RiskLevel   RiskLevel   `json:"riskLevel"`
	Issues      []Issue     `json:"issues"`
	Stats       Stats       `json:"stats"`
}

// Digest is the hex SHA-256 of a report's canonical encoding.
type Digest struct {
	Hash string `json:"hash"`
}

func (d Digest) String() string { return d.Hash }

// IsZero reports whether no hash has been computed.
func (d Digest) IsZero() bool { return d.Hash == "" }

// Snapshot is a persisted report with its digest. Rows are append-only.
type Snapshot struct {
	ID          id.SnapshotID `json:"id"`
	Tenant      id.TenantID   `json:"tenant"`
	Hash        string        `json:"hash"`
	HealthScore int           `json:"healthScore"`
	RiskLevel   RiskLevel     `json:"riskLevel"`
	CreatedAt   time.Time     `json:"createdAt"`
	Report      AuditReport   `json:"report"`
}

// LatestAudit is the typed per-tenant record of the most recent computation.
type LatestAudit struct {
	Report     AuditReport `json:"report"`
	Digest     Digest      `json:"digest"`
	ComputedAt time.Time   `json:"computedAt"`
}

// RegionStats are the raw inputs for one region.
type RegionStats struct {
	State         string
	PendingAI     *int
	VoteAnomalies *int
	StaleProfiles *int
}

// RawStats is the collector output. A nil field means its source failed and
// the name of the source is listed in Unavailable.
type RawStats struct {
	PendingAI      *int
	VoteAnomalies  *int
	StaleProfiles  *int
	OpenComplaints *int
	Regions        []RegionStats
	Unavailable    []string
}

// Degraded reports whether at least one collaborator failed.
func (s RawStats) Degraded() bool { return len(s.Unavailable) > 0 }

// ConditionCode names a non-fatal outcome of an audit run.
type ConditionCode string

const (
	ConditionCollaboratorUnavailable ConditionCode = "collaborator_unavailable"
	ConditionAnchorPublishFailed     ConditionCode = "anchor_publish_failed"
	ConditionSnapshotPersistFailed   ConditionCode = "snapshot_persist_failed"
)

// Condition is attached to a result instead of being returned as an error.
type Condition struct {
	Code   ConditionCode `json:"code"`
	Detail string        `json:"detail,omitempty"`
}

// VoteType is the side a vote counts toward.
type VoteType string

const (
	VoteUp   VoteType = "up"
	VoteDown VoteType = "down"
)

func (t VoteType) IsValid() bool { return t == VoteUp || t == VoteDown }

func (t VoteType) String() string { return string(t) }

// ParseVoteType validates a vote type from request input.
func ParseVoteType(s string) (VoteType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "vote type is required")
	}
	t := VoteType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "vote type must be 'up' or 'down'")
	}
	return t, nil
}

// VoteRecord is the single accepted vote of a voter on a subject.
type VoteRecord struct {
	TenantID  id.TenantID  `json:"tenantId"`
	SubjectID id.SubjectID `json:"subjectId"`
	VoterID   id.VoterID   `json:"voterId"`
	VoteType  VoteType     `json:"voteType"`
	IPAddress string       `json:"ipAddress"`
	CreatedAt time.Time    `json:"createdAt"`
}

// VoteAuditEntry records one counter change. NewCount is always
// PreviousCount+Delta and Delta is 0 or 1.
type VoteAuditEntry struct {
	ID            int64        `json:"id"`
	TenantID      id.TenantID  `json:"tenantId"`
	SubjectID     id.SubjectID `json:"subjectId"`
	VoteType      VoteType     `json:"voteType"`
	PreviousCount int          `json:"previousCount"`
	NewCount      int          `json:"newCount"`
	Delta         int          `json:"delta"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// Counters are the authoritative vote totals on a subject row.
type Counters struct {
	VotesUp        int `json:"votesUp"`
	VotesDown      int `json:"votesDown"`
	ApprovalRating int `json:"approvalRating"`
}

// Side returns the counter for t.
func (c Counters) Side(t VoteType) int {
	if t == VoteDown {
		return c.VotesDown
	}
	return c.VotesUp
}

// Apply returns the counters after one accepted vote of type t.
func (c Counters) Apply(t VoteType) Counters {
	next := c
	if t == VoteDown {
		next.VotesDown++
	} else {
		next.VotesUp++
	}
	next.ApprovalRating = ApprovalRating(next.VotesUp, next.VotesDown)
	return next
}

// ApprovalRating is round(up/(up+down)*100), 50 when there are no votes.
func ApprovalRating(up, down int) int {
	total := up + down
	if total <= 0 {
		return 50
	}
	// integer half-up rounding of 100*up/total
	return (200*up + total) / (2 * total)
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
