package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"civicwatch/internal/integrity/stats"
	id "civicwatch/pkg/domain"
)

// Subject is a registry row held by InMemory.
type Subject struct {
	ID        id.SubjectID
	Tenant    id.TenantID
	State     string
	Pending   bool
	UpdatedAt time.Time
}

// InMemory implements stats.Registry and stats.Complaints for tests.
// Setting Err makes every query fail with it.
type InMemory struct {
	mu         sync.RWMutex
	subjects   map[id.SubjectID]Subject
	complaints map[id.TenantID]map[string]int
	Err        error
}

func NewInMemory() *InMemory {
	return &InMemory{
		subjects:   make(map[id.SubjectID]Subject),
		complaints: make(map[id.TenantID]map[string]int),
	}
}

func (m *InMemory) AddSubject(s Subject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[s.ID] = s
}

func (m *InMemory) AddComplaints(tenant id.TenantID, status string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.complaints[tenant] == nil {
		m.complaints[tenant] = make(map[string]int)
	}
	m.complaints[tenant][status] += n
}

func (m *InMemory) each(tenant id.TenantID, fn func(Subject)) {
	for _, s := range m.subjects {
		if tenant.IsNil() || s.Tenant == tenant {
			fn(s)
		}
	}
}

func (m *InMemory) PendingNarratives(_ context.Context, tenant id.TenantID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return 0, m.Err
	}
	n := 0
	m.each(tenant, func(s Subject) {
		if s.Pending {
			n++
		}
	})
	return n, nil
}

func (m *InMemory) StaleProfiles(_ context.Context, tenant id.TenantID, notUpdatedSince time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return 0, m.Err
	}
	n := 0
	m.each(tenant, func(s Subject) {
		if s.UpdatedAt.Before(notUpdatedSince) {
			n++
		}
	})
	return n, nil
}

func (m *InMemory) RegionBreakdown(_ context.Context, tenant id.TenantID, notUpdatedSince time.Time) ([]stats.RegionCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	byState := make(map[string]*stats.RegionCounts)
	m.each(tenant, func(s Subject) {
		if s.State == "" {
			return
		}
		rc, ok := byState[s.State]
		if !ok {
			rc = &stats.RegionCounts{State: s.State}
			byState[s.State] = rc
		}
		rc.Subjects++
		if s.Pending {
			rc.PendingAI++
		}
		if s.UpdatedAt.Before(notUpdatedSince) {
			rc.Stale++
		}
	})
	out := make([]stats.RegionCounts, 0, len(byState))
	for _, rc := range byState {
		out = append(out, *rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].State < out[j].State })
	return out, nil
}

func (m *InMemory) SubjectRegions(_ context.Context, subjects []id.SubjectID) (map[id.SubjectID]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make(map[id.SubjectID]string, len(subjects))
	for _, sid := range subjects {
		if s, ok := m.subjects[sid]; ok && s.State != "" {
			out[sid] = s.State
		}
	}
	return out, nil
}

func (m *InMemory) CountByStatus(_ context.Context, tenant id.TenantID) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make(map[string]int)
	for t, byStatus := range m.complaints {
		if !tenant.IsNil() && t != tenant {
			continue
		}
		for status, n := range byStatus {
			out[status] += n
		}
	}
	return out, nil
}
