package stats

import (
	"context"
	"time"

	id "civicwatch/pkg/domain"
)

// RegionCounts is one row of the registry's per-region breakdown. Only
// regions with at least one subject are returned.
type RegionCounts struct {
	State     string
	Subjects  int
	PendingAI int
	Stale     int
}

// Registry is the politician/subject registry. A nil tenant spans all tenants.
type Registry interface {
	PendingNarratives(ctx context.Context, tenant id.TenantID) (int, error)
	StaleProfiles(ctx context.Context, tenant id.TenantID, notUpdatedSince time.Time) (int, error)
	RegionBreakdown(ctx context.Context, tenant id.TenantID, notUpdatedSince time.Time) ([]RegionCounts, error)
	SubjectRegions(ctx context.Context, subjects []id.SubjectID) (map[id.SubjectID]string, error)
}

// Complaints counts complaints by status.
type Complaints interface {
	CountByStatus(ctx context.Context, tenant id.TenantID) (map[string]int, error)
}

// Anomalies is the vote guard's burst signal.
type Anomalies interface {
	AnomaliesBySubject(ctx context.Context, tenant id.TenantID) (map[id.SubjectID]int, error)
}
