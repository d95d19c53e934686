package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"civicwatch/internal/integrity/models"
	"civicwatch/internal/integrity/votes"
	id "civicwatch/pkg/domain"
	"civicwatch/pkg/platform/sentinel"
	txctx "civicwatch/pkg/platform/tx"
)

// PostgresStore persists votes, counters and the audit trail in PostgreSQL.
// The politicians row lock taken by LockCounters is the per-subject
// serialization point; the votes_one_per_voter constraint is the source of
// truth for uniqueness.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed vote store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx votes.TxStore) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	return txctx.Run(ctx, s.db, opts, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &postgresTx{tx: tx})
	})
}

func (s *PostgresStore) BurstsBySubject(ctx context.Context, tenant id.TenantID, since time.Time, bucket time.Duration, threshold int) (map[id.SubjectID]int, error) {
	const query = `
		SELECT politician_id, COUNT(*)
		FROM (
			SELECT politician_id,
			       date_bin($3::interval, created_at, TIMESTAMPTZ '2000-01-01 00:00:00+00') AS bucket
			FROM vote_audit
			WHERE created_at > $1
			  AND delta = 1
			  AND ($2::uuid IS NULL OR tenant_id = $2::uuid)
			GROUP BY politician_id, bucket
			HAVING COUNT(*) > $4
		) bursts
		GROUP BY politician_id`

	var tenantArg any
	if !tenant.IsNil() {
		tenantArg = uuid.UUID(tenant)
	}
	interval := fmt.Sprintf("%d milliseconds", bucket.Milliseconds())

	rows, err := txctx.Exec(ctx, s.db).QueryContext(ctx, query, since, tenantArg, interval, threshold)
	if err != nil {
		return nil, fmt.Errorf("query vote bursts: %w", err)
	}
	defer rows.Close()

	out := make(map[id.SubjectID]int)
	for rows.Next() {
		var subject uuid.UUID
		var n int
		if err := rows.Scan(&subject, &n); err != nil {
			return nil, fmt.Errorf("scan vote burst: %w", err)
		}
		out[id.SubjectID(subject)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vote bursts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) EntriesForSubject(ctx context.Context, tenant id.TenantID, subject id.SubjectID) ([]models.VoteAuditEntry, error) {
	const query = `
		SELECT id, tenant_id, politician_id, vote_type, previous_count, new_count, delta, created_at
		FROM vote_audit
		WHERE politician_id = $1 AND ($2::uuid IS NULL OR tenant_id = $2::uuid)
		ORDER BY id`

	var tenantArg any
	if !tenant.IsNil() {
		tenantArg = uuid.UUID(tenant)
	}
	rows, err := txctx.Exec(ctx, s.db).QueryContext(ctx, query, uuid.UUID(subject), tenantArg)
	if err != nil {
		return nil, fmt.Errorf("query vote trail: %w", err)
	}
	defer rows.Close()

	var out []models.VoteAuditEntry
	for rows.Next() {
		var (
			e                models.VoteAuditEntry
			tenantID, subjID uuid.UUID
			voteType         string
		)
		if err := rows.Scan(&e.ID, &tenantID, &subjID, &voteType, &e.PreviousCount, &e.NewCount, &e.Delta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote trail: %w", err)
		}
		e.TenantID = id.TenantID(tenantID)
		e.SubjectID = id.SubjectID(subjID)
		e.VoteType = models.VoteType(voteType)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vote trail: %w", err)
	}
	return out, nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) LockCounters(ctx context.Context, tenant id.TenantID, subject id.SubjectID) (models.Counters, error) {
	const query = `
		SELECT votes_up, votes_down, approval_rating
		FROM politicians
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE`

	var c models.Counters
	err := t.tx.QueryRowContext(ctx, query, uuid.UUID(subject), uuid.UUID(tenant)).
		Scan(&c.VotesUp, &c.VotesDown, &c.ApprovalRating)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Counters{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.Counters{}, fmt.Errorf("lock subject counters: %w", err)
	}
	return c, nil
}

func (t *postgresTx) CountEntriesSince(ctx context.Context, subject id.SubjectID, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM vote_audit WHERE politician_id = $1 AND created_at > $2`
	var n int
	if err := t.tx.QueryRowContext(ctx, query, uuid.UUID(subject), since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recent vote entries: %w", err)
	}
	return n, nil
}

func (t *postgresTx) InsertVote(ctx context.Context, rec models.VoteRecord) error {
	const query = `
		INSERT INTO votes (id, tenant_id, politician_id, voter_id, vote_type, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT votes_one_per_voter DO NOTHING`

	res, err := t.tx.ExecContext(ctx, query,
		uuid.New(),
		uuid.UUID(rec.TenantID),
		uuid.UUID(rec.SubjectID),
		uuid.UUID(rec.VoterID),
		string(rec.VoteType),
		rec.IPAddress,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert vote rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (t *postgresTx) UpdateCounters(ctx context.Context, tenant id.TenantID, subject id.SubjectID, c models.Counters) error {
	const query = `
		UPDATE politicians
		SET votes_up = $1, votes_down = $2, approval_rating = $3
		WHERE id = $4 AND tenant_id = $5`

	res, err := t.tx.ExecContext(ctx, query, c.VotesUp, c.VotesDown, c.ApprovalRating, uuid.UUID(subject), uuid.UUID(tenant))
	if err != nil {
		return fmt.Errorf("update subject counters: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (t *postgresTx) AppendEntry(ctx context.Context, e models.VoteAuditEntry) (models.VoteAuditEntry, error) {
	const query = `
		INSERT INTO vote_audit (tenant_id, politician_id, vote_type, previous_count, new_count, delta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := t.tx.QueryRowContext(ctx, query,
		uuid.UUID(e.TenantID),
		uuid.UUID(e.SubjectID),
		string(e.VoteType),
		e.PreviousCount,
		e.NewCount,
		e.Delta,
		e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return models.VoteAuditEntry{}, fmt.Errorf("append vote audit entry: %w", err)
	}
	return e, nil
}
