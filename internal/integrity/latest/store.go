// Package latest holds the typed "most recent audit" record per tenant.
//
// Get reports ok=false when no audit has been recorded for the tenant yet;
// callers never have to sniff an empty or loosely typed value.
package latest

import (
	"context"

	"civicwatch/internal/integrity/models"
	id "civicwatch/pkg/domain"
)

// Store keeps one LatestAudit per tenant. Put never replaces a record with an
// older ComputedAt.
type Store interface {
	Get(ctx context.Context, tenant id.TenantID) (models.LatestAudit, bool, error)
	Put(ctx context.Context, tenant id.TenantID, rec models.LatestAudit) error
	// Invalidate drops the tenant's record so reads fall back to snapshots.
	Invalidate(ctx context.Context, tenant id.TenantID) error
}
