package latest

import (
	"context"
	"sync"

	"civicwatch/internal/integrity/models"
	id "civicwatch/pkg/domain"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	byID map[id.TenantID]models.LatestAudit
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{byID: make(map[id.TenantID]models.LatestAudit)}
}

func (s *InMemoryStore) Get(_ context.Context, tenant id.TenantID) (models.LatestAudit, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[tenant]
	return rec, ok, nil
}

func (s *InMemoryStore) Put(_ context.Context, tenant id.TenantID, rec models.LatestAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byID[tenant]; ok && cur.ComputedAt.After(rec.ComputedAt) {
		return nil
	}
	s.byID[tenant] = rec
	return nil
}

func (s *InMemoryStore) Invalidate(_ context.Context, tenant id.TenantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, tenant)
	return nil
}
