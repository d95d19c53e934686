package anchor

import (
	"context"
	"sync"
	"time"

	"civicwatch/pkg/platform/sentinel"
	"civicwatch/pkg/requestcontext"
)

// DefaultClaimTTL is how long a pending claim blocks other attempts before it
// is considered abandoned.
const DefaultClaimTTL = 5 * time.Minute

type ledgerRow struct {
	anchored  bool
	reference string
	claimedAt time.Time
}

// InMemoryLedger is a Ledger for tests and single-process deployments.
type InMemoryLedger struct {
	mu       sync.Mutex
	rows     map[string]ledgerRow
	claimTTL time.Duration
}

func NewInMemoryLedger(claimTTL time.Duration) *InMemoryLedger {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	return &InMemoryLedger{rows: make(map[string]ledgerRow), claimTTL: claimTTL}
}

func (l *InMemoryLedger) Claim(ctx context.Context, hash string) (string, error) {
	now := requestcontext.Now(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[hash]
	switch {
	case ok && row.anchored:
		return row.reference, sentinel.ErrAlreadyUsed
	case ok && now.Sub(row.claimedAt) < l.claimTTL:
		return "", sentinel.ErrInFlight
	}
	l.rows[hash] = ledgerRow{claimedAt: now}
	return "", nil
}

func (l *InMemoryLedger) Complete(_ context.Context, hash, reference string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.rows[hash]; !ok {
		return sentinel.ErrNotFound
	}
	l.rows[hash] = ledgerRow{anchored: true, reference: reference}
	return nil
}

func (l *InMemoryLedger) Release(_ context.Context, hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if row, ok := l.rows[hash]; ok && !row.anchored {
		delete(l.rows, hash)
	}
	return nil
}

// Reference returns the stored reference of an anchored digest.
func (l *InMemoryLedger) Reference(hash string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[hash]
	return row.reference, ok && row.anchored
}
