package snapshot

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"civicwatch/internal/integrity/models"
	id "civicwatch/pkg/domain"
	"civicwatch/pkg/platform/sentinel"
	"civicwatch/pkg/requestcontext"
)

// InMemoryStore keeps snapshots in insertion order.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows []models.Snapshot
	// Err, when set, fails every Append.
	Err error
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(ctx context.Context, report models.AuditReport, d models.Digest) (models.Snapshot, error) {
	if err := checkAppend(report, d); err != nil {
		return models.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return models.Snapshot{}, s.Err
	}
	snap := models.Snapshot{
		ID:          id.SnapshotID(uuid.New()),
		Tenant:      report.Tenant,
		Hash:        d.Hash,
		HealthScore: report.HealthScore,
		RiskLevel:   report.RiskLevel,
		CreatedAt:   requestcontext.Now(ctx).UTC(),
		Report:      report,
	}
	s.rows = append(s.rows, snap)
	return snap, nil
}

func (s *InMemoryStore) Latest(_ context.Context, tenant id.TenantID, n int) ([]models.Snapshot, error) {
	n = clampLimit(n)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.Snapshot
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].Tenant == tenant {
			matched = append(matched, s.rows[i])
		}
	}
	// equal timestamps keep the later append first
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > n {
		matched = matched[:n]
	}
	out := make([]models.Snapshot, len(matched))
	copy(out, matched)
	return out, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, snapshotID id.SnapshotID) (models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.rows {
		if row.ID == snapshotID {
			return row, nil
		}
	}
	return models.Snapshot{}, sentinel.ErrNotFound
}
