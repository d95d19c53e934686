package votes

import (
	"context"
	"fmt"

	"civicwatch/internal/integrity/models"
	id "civicwatch/pkg/domain"
)

// TrailViolation describes one inconsistent audit entry.
type TrailViolation struct {
	EntryID int64  `json:"entryId"`
	Reason  string `json:"reason"`
}

// TrailReport is the outcome of VerifyTrail.
type TrailReport struct {
	Subject    id.SubjectID     `json:"subjectId"`
	Entries    int              `json:"entries"`
	Violations []TrailViolation `json:"violations"`
}

// Consistent reports whether no violation was found.
func (r TrailReport) Consistent() bool { return len(r.Violations) == 0 }

// VerifyTrail walks the subject's audit trail and reports every entry that
// breaks newCount = previousCount + delta, has a delta outside {0,1}, or does
// not continue from the previous entry on the same side.
func (g *Guard) VerifyTrail(ctx context.Context, tenant id.TenantID, subject id.SubjectID) (TrailReport, error) {
	entries, err := g.store.EntriesForSubject(ctx, tenant, subject)
	if err != nil {
		return TrailReport{}, fmt.Errorf("load vote trail: %w", err)
	}
	return CheckTrail(subject, entries), nil
}

// CheckTrail validates entries, which must be in insertion order.
func CheckTrail(subject id.SubjectID, entries []models.VoteAuditEntry) TrailReport {
	report := TrailReport{Subject: subject, Entries: len(entries), Violations: []TrailViolation{}}
	last := map[models.VoteType]int{}
	for _, e := range entries {
		if e.Delta != 0 && e.Delta != 1 {
			report.Violations = append(report.Violations, TrailViolation{
				EntryID: e.ID,
				Reason:  fmt.Sprintf("delta %d outside {0,1}", e.Delta),
			})
		}
		if e.NewCount != e.PreviousCount+e.Delta {
			report.Violations = append(report.Violations, TrailViolation{
				EntryID: e.ID,
				Reason:  fmt.Sprintf("new count %d != previous %d + delta %d", e.NewCount, e.PreviousCount, e.Delta),
			})
		}
		if prev, seen := last[e.VoteType]; seen && e.PreviousCount != prev {
			report.Violations = append(report.Violations, TrailViolation{
				EntryID: e.ID,
				Reason:  fmt.Sprintf("%s chain broken: previous count %d, last recorded %d", e.VoteType, e.PreviousCount, prev),
			})
		}
		last[e.VoteType] = e.NewCount
	}
	return report
}
