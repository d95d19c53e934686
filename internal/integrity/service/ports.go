package service

import (
	"context"

	"civicwatch/internal/integrity/anchor"
	"civicwatch/internal/integrity/models"
	id "civicwatch/pkg/domain"
)

// Collector gathers the raw inputs of a report. It returns an error only when
// ctx is done; failed sources come back as nil fields.
type Collector interface {
	Collect(ctx context.Context, tenant id.TenantID) (models.RawStats, error)
}

// Anchorer starts a background anchoring attempt for a digest.
type Anchorer interface {
	Dispatch(ctx context.Context, d models.Digest) <-chan anchor.Result
}
