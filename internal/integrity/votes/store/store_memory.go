package store

import (
	"context"
	"sync"
	"time"

	"civicwatch/internal/integrity/models"
	"civicwatch/internal/integrity/votes"
	id "civicwatch/pkg/domain"
	"civicwatch/pkg/platform/sentinel"
)

type voteKey struct {
	tenant  id.TenantID
	subject id.SubjectID
	voter   id.VoterID
}

type subjectRow struct {
	tenant   id.TenantID
	counters models.Counters
}

// InMemory is a votes.Store for tests and single-process use. One mutex is
// held for the whole of RunInTx, so every transaction is serialized; writes
// are staged and applied only on success.
type InMemory struct {
	mu       sync.Mutex
	subjects map[id.SubjectID]*subjectRow
	votes    map[voteKey]models.VoteRecord
	entries  []models.VoteAuditEntry
	nextID   int64
}

func NewInMemory() *InMemory {
	return &InMemory{
		subjects: make(map[id.SubjectID]*subjectRow),
		votes:    make(map[voteKey]models.VoteRecord),
	}
}

// AddSubject registers a subject with starting counters.
func (s *InMemory) AddSubject(tenant id.TenantID, subject id.SubjectID, c models.Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[subject] = &subjectRow{tenant: tenant, counters: c}
}

// Counters returns the committed counters of subject.
func (s *InMemory) Counters(subject id.SubjectID) (models.Counters, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.subjects[subject]
	if !ok {
		return models.Counters{}, false
	}
	return row.counters, true
}

// VoteCount returns the number of committed vote records.
func (s *InMemory) VoteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.votes)
}

// Entries returns a copy of the committed audit trail.
func (s *InMemory) Entries() []models.VoteAuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.VoteAuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// AppendRawEntries appends trail entries directly, bypassing the guard.
// Intended for seeding anomaly and trail-verification fixtures.
func (s *InMemory) AppendRawEntries(entries ...models.VoteAuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.nextID++
		e.ID = s.nextID
		s.entries = append(s.entries, e)
	}
}

func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx votes.TxStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{
		store:    s,
		counters: make(map[id.SubjectID]models.Counters),
		votes:    make(map[voteKey]models.VoteRecord),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *InMemory) BurstsBySubject(_ context.Context, tenant id.TenantID, since time.Time, bucket time.Duration, threshold int) (map[id.SubjectID]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type bucketKey struct {
		subject id.SubjectID
		start   time.Time
	}
	perBucket := make(map[bucketKey]int)
	for _, e := range s.entries {
		if e.Delta != 1 || !e.CreatedAt.After(since) {
			continue
		}
		if !tenant.IsNil() && e.TenantID != tenant {
			continue
		}
		perBucket[bucketKey{e.SubjectID, e.CreatedAt.UTC().Truncate(bucket)}]++
	}

	out := make(map[id.SubjectID]int)
	for k, n := range perBucket {
		if n > threshold {
			out[k.subject]++
		}
	}
	return out, nil
}

func (s *InMemory) EntriesForSubject(_ context.Context, tenant id.TenantID, subject id.SubjectID) ([]models.VoteAuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.VoteAuditEntry
	for _, e := range s.entries {
		if e.SubjectID == subject && (tenant.IsNil() || e.TenantID == tenant) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memoryTx struct {
	store    *InMemory
	counters map[id.SubjectID]models.Counters
	votes    map[voteKey]models.VoteRecord
	entries  []models.VoteAuditEntry
}

func (t *memoryTx) LockCounters(_ context.Context, tenant id.TenantID, subject id.SubjectID) (models.Counters, error) {
	row, ok := t.store.subjects[subject]
	if !ok || row.tenant != tenant {
		return models.Counters{}, sentinel.ErrNotFound
	}
	if c, staged := t.counters[subject]; staged {
		return c, nil
	}
	return row.counters, nil
}

func (t *memoryTx) CountEntriesSince(_ context.Context, subject id.SubjectID, since time.Time) (int, error) {
	n := 0
	for _, list := range [][]models.VoteAuditEntry{t.store.entries, t.entries} {
		for _, e := range list {
			if e.SubjectID == subject && e.CreatedAt.After(since) {
				n++
			}
		}
	}
	return n, nil
}

func (t *memoryTx) InsertVote(_ context.Context, rec models.VoteRecord) error {
	key := voteKey{rec.TenantID, rec.SubjectID, rec.VoterID}
	if _, ok := t.store.votes[key]; ok {
		return sentinel.ErrAlreadyUsed
	}
	if _, ok := t.votes[key]; ok {
		return sentinel.ErrAlreadyUsed
	}
	t.votes[key] = rec
	return nil
}

func (t *memoryTx) UpdateCounters(_ context.Context, tenant id.TenantID, subject id.SubjectID, c models.Counters) error {
	row, ok := t.store.subjects[subject]
	if !ok || row.tenant != tenant {
		return sentinel.ErrNotFound
	}
	t.counters[subject] = c
	return nil
}

func (t *memoryTx) AppendEntry(_ context.Context, e models.VoteAuditEntry) (models.VoteAuditEntry, error) {
	e.ID = t.store.nextID + int64(len(t.entries)) + 1
	t.entries = append(t.entries, e)
	return e, nil
}

func (t *memoryTx) commit() {
	s := t.store
	for subject, c := range t.counters {
		s.subjects[subject].counters = c
	}
	for k, v := range t.votes {
		s.votes[k] = v
	}
	for _, e := range t.entries {
		s.entries = append(s.entries, e)
		s.nextID = e.ID
	}
}
