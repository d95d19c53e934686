// Package snapshot is the append-only history of audit reports.
//
// There is no update or delete path. Readers get snapshots newest first;
// a listing is finite and can be restarted by querying again.
package snapshot

import (
	"context"

	"civicwatch/internal/integrity/digest"
	"civicwatch/internal/integrity/models"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
)

// MaxListLimit bounds a single Latest call.
const MaxListLimit = 100

// Store persists snapshots.
type Store interface {
	// Append persists report with its digest and returns the new snapshot.
	Append(ctx context.Context, report models.AuditReport, d models.Digest) (models.Snapshot, error)
	// Latest returns up to n snapshots of tenant, newest first. The nil
	// tenant selects the platform-wide series.
	Latest(ctx context.Context, tenant id.TenantID, n int) ([]models.Snapshot, error)
	// FindByID returns sentinel.ErrNotFound when no snapshot has the id.
	FindByID(ctx context.Context, snapshotID id.SnapshotID) (models.Snapshot, error)
}

// checkAppend rejects a digest that does not belong to the report.
func checkAppend(report models.AuditReport, d models.Digest) error {
	if !digest.Verify(report, d.Hash) {
		return dErrors.New(dErrors.CodeInvariantViolation, "digest does not match report")
	}
	return nil
}

func clampLimit(n int) int {
	return min(max(n, 0), MaxListLimit)
}
