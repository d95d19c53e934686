package handler

import (
	"time"

	"civicwatch/internal/integrity/models"
	"civicwatch/internal/integrity/votes"
)

type LatestAuditResponse struct {
	Report     models.AuditReport `json:"report"`
	Hash       string             `json:"hash"`
	ComputedAt time.Time          `json:"computedAt"`
}

type DigestResponse struct {
	Hash       string    `json:"hash"`
	Algorithm  string    `json:"algorithm"`
	ComputedAt time.Time `json:"computedAt"`
}

// SnapshotSummary omits the full report; fetch it by verifying the snapshot.
type SnapshotSummary struct {
	ID          string           `json:"id"`
	Hash        string           `json:"hash"`
	HealthScore int              `json:"healthScore"`
	RiskLevel   models.RiskLevel `json:"riskLevel"`
	CreatedAt   time.Time        `json:"createdAt"`
}

type SnapshotListResponse struct {
	Tenant    string            `json:"tenant"`
	Snapshots []SnapshotSummary `json:"snapshots"`
}

type RunAuditRequest struct {
	Tenant   string `json:"tenant"`
	Snapshot bool   `json:"snapshot"`
}

type RunAuditResponse struct {
	Report     models.AuditReport `json:"report"`
	Hash       string             `json:"hash"`
	SnapshotID string             `json:"snapshotId,omitempty"`
	Anchoring  bool               `json:"anchoring"`
	Conditions []models.Condition `json:"conditions"`
}

type CastVoteRequest struct {
	Tenant  string `json:"tenant"`
	Subject string `json:"subject"`
	Type    string `json:"type"`
}

type TrailResponse struct {
	Subject    string                 `json:"subject"`
	Entries    int                    `json:"entries"`
	Consistent bool                   `json:"consistent"`
	Violations []votes.TrailViolation `json:"violations"`
}

func toSummaries(snaps []models.Snapshot) []SnapshotSummary {
	out := make([]SnapshotSummary, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, SnapshotSummary{
			ID:          s.ID.String(),
			Hash:        s.Hash,
			HealthScore: s.HealthScore,
			RiskLevel:   s.RiskLevel,
			CreatedAt:   s.CreatedAt,
		})
	}
	return out
}
