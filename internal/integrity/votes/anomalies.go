package votes

import (
	"context"
	"fmt"

	id "civicwatch/pkg/domain"
	"civicwatch/pkg/requestcontext"
)

// AnomaliesBySubject returns the burst count per subject over the trailing
// lookback. Subjects without bursts are absent. A nil tenant spans all tenants.
func (g *Guard) AnomaliesBySubject(ctx context.Context, tenant id.TenantID) (map[id.SubjectID]int, error) {
	since := requestcontext.Now(ctx).UTC().Add(-g.anomalyLookback)
	bursts, err := g.store.BurstsBySubject(ctx, tenant, since, g.burstWindow, g.burstThreshold)
	if err != nil {
		return nil, fmt.Errorf("count vote bursts: %w", err)
	}
	return bursts, nil
}

// CountAnomalies is the voteAnomalies signal: the number of (subject, bucket)
// pairs in the lookback whose accepted votes exceed the burst threshold.
func (g *Guard) CountAnomalies(ctx context.Context, tenant id.TenantID) (int, error) {
	bursts, err := g.AnomaliesBySubject(ctx, tenant)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range bursts {
		total += n
	}
	return total, nil
}
