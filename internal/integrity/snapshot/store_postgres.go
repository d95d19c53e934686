package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"civicwatch/internal/integrity/models"
	id "civicwatch/pkg/domain"
	"civicwatch/pkg/platform/sentinel"
	txctx "civicwatch/pkg/platform/tx"
	"civicwatch/pkg/requestcontext"
)

// PostgresStore persists snapshots in audit_snapshots. A trigger rejects
// UPDATE and DELETE on that table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, report models.AuditReport, d models.Digest) (models.Snapshot, error) {
	if err := checkAppend(report, d); err != nil {
		return models.Snapshot{}, err
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("encode snapshot report: %w", err)
	}

	snap := models.Snapshot{
		ID:          id.SnapshotID(uuid.New()),
		Tenant:      report.Tenant,
		Hash:        d.Hash,
		HealthScore: report.HealthScore,
		RiskLevel:   report.RiskLevel,
		CreatedAt:   requestcontext.Now(ctx).UTC().Truncate(time.Microsecond),
		Report:      report,
	}

	const query = `
		INSERT INTO audit_snapshots (id, tenant_id, hash, health_score, risk_level, report, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = txctx.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(snap.ID),
		uuid.UUID(snap.Tenant),
		snap.Hash,
		snap.HealthScore,
		string(snap.RiskLevel),
		raw,
		snap.CreatedAt,
	)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	return snap, nil
}

const selectSnapshot = `
	SELECT id, tenant_id, hash, health_score, risk_level, report, created_at
	FROM audit_snapshots`

func (s *PostgresStore) Latest(ctx context.Context, tenant id.TenantID, n int) ([]models.Snapshot, error) {
	n = clampLimit(n)
	if n == 0 {
		return []models.Snapshot{}, nil
	}
	rows, err := txctx.Exec(ctx, s.db).QueryContext(ctx,
		selectSnapshot+` WHERE tenant_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2`,
		uuid.UUID(tenant), n)
	if err != nil {
		return nil, fmt.Errorf("query latest snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]models.Snapshot, 0, n)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, snapshotID id.SnapshotID) (models.Snapshot, error) {
	row := txctx.Exec(ctx, s.db).QueryRowContext(ctx, selectSnapshot+` WHERE id = $1`, uuid.UUID(snapshotID))
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Snapshot{}, sentinel.ErrNotFound
	}
	return snap, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (models.Snapshot, error) {
	var (
		snap             models.Snapshot
		snapID, tenantID uuid.UUID
		risk             string
		raw              []byte
	)
	if err := row.Scan(&snapID, &tenantID, &snap.Hash, &snap.HealthScore, &risk, &raw, &snap.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Snapshot{}, err
		}
		return models.Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &snap.Report); err != nil {
		return models.Snapshot{}, fmt.Errorf("decode snapshot report: %w", err)
	}
	snap.ID = id.SnapshotID(snapID)
	snap.Tenant = id.TenantID(tenantID)
	snap.RiskLevel = models.RiskLevel(risk)
	snap.CreatedAt = snap.CreatedAt.UTC()
	return snap, nil
}
