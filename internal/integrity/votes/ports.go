package votes

import (
	"context"
	"time"

	"civicwatch/internal/integrity/models"
	id "civicwatch/pkg/domain"
)

// Store is the vote persistence the guard depends on. Implementations must
// make RunInTx a serialization point per subject: two transactions that lock
// the same subject's counters never interleave.
type Store interface {
	// RunInTx runs fn in one transaction. Nothing fn wrote is visible to
	// other callers unless fn returns nil and ctx is still live.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error

	// BurstsBySubject returns, per subject, how many buckets of length bucket
	// since the given instant hold more than threshold accepted-vote entries.
	// A nil tenant spans every tenant.
	BurstsBySubject(ctx context.Context, tenant id.TenantID, since time.Time, bucket time.Duration, threshold int) (map[id.SubjectID]int, error)

	// EntriesForSubject returns the subject's audit trail in insertion order.
	EntriesForSubject(ctx context.Context, tenant id.TenantID, subject id.SubjectID) ([]models.VoteAuditEntry, error)
}

// TxStore is the transactional view handed to RunInTx callbacks.
type TxStore interface {
	// LockCounters reads the subject's counters and holds them until the
	// transaction ends. Returns sentinel.ErrNotFound for an unknown subject.
	LockCounters(ctx context.Context, tenant id.TenantID, subject id.SubjectID) (models.Counters, error)
	// CountEntriesSince counts audit entries for subject created strictly after since.
	CountEntriesSince(ctx context.Context, subject id.SubjectID, since time.Time) (int, error)
	// InsertVote returns sentinel.ErrAlreadyUsed when the voter already voted
	// on the subject in the tenant.
	InsertVote(ctx context.Context, rec models.VoteRecord) error
	UpdateCounters(ctx context.Context, tenant id.TenantID, subject id.SubjectID, c models.Counters) error
	AppendEntry(ctx context.Context, e models.VoteAuditEntry) (models.VoteAuditEntry, error)
}
