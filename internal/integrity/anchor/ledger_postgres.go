package anchor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"civicwatch/pkg/platform/sentinel"
	"civicwatch/pkg/requestcontext"
)

// PostgresLedger keeps anchor claims in digest_anchors, keyed by hash.
type PostgresLedger struct {
	db       *sql.DB
	claimTTL time.Duration
}

func NewPostgresLedger(db *sql.DB, claimTTL time.Duration) *PostgresLedger {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	return &PostgresLedger{db: db, claimTTL: claimTTL}
}

func (l *PostgresLedger) Claim(ctx context.Context, hash string) (string, error) {
	now := requestcontext.Now(ctx).UTC()

	// Insert a pending claim, or take over a pending claim that has expired.
	const claim = `
		INSERT INTO digest_anchors (hash, status, claimed_at)
		VALUES ($1, 'pending', $2)
		ON CONFLICT (hash) DO UPDATE SET claimed_at = EXCLUDED.claimed_at
		WHERE digest_anchors.status = 'pending' AND digest_anchors.claimed_at < $3
		RETURNING hash`
	var claimed string
	err := l.db.QueryRowContext(ctx, claim, hash, now, now.Add(-l.claimTTL)).Scan(&claimed)
	if err == nil {
		return "", nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("claim digest anchor: %w", err)
	}

	var status, reference string
	err = l.db.QueryRowContext(ctx,
		`SELECT status, reference FROM digest_anchors WHERE hash = $1`, hash,
	).Scan(&status, &reference)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// released between the two statements; treat as someone else's turn
		return "", sentinel.ErrInFlight
	case err != nil:
		return "", fmt.Errorf("read digest anchor: %w", err)
	case status == "anchored":
		return reference, sentinel.ErrAlreadyUsed
	default:
		return "", sentinel.ErrInFlight
	}
}

func (l *PostgresLedger) Complete(ctx context.Context, hash, reference string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE digest_anchors
		SET status = 'anchored', reference = $2, anchored_at = $3
		WHERE hash = $1`,
		hash, reference, requestcontext.Now(ctx).UTC())
	if err != nil {
		return fmt.Errorf("complete digest anchor: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (l *PostgresLedger) Release(ctx context.Context, hash string) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM digest_anchors WHERE hash = $1 AND status = 'pending'`, hash)
	if err != nil {
		return fmt.Errorf("release digest anchor: %w", err)
	}
	return nil
}
