package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"civicwatch/internal/integrity/stats"
	id "civicwatch/pkg/domain"
)

// PostgresRegistry reads subject aggregates from the politicians table.
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

func tenantArg(tenant id.TenantID) any {
	if tenant.IsNil() {
		return nil
	}
	return uuid.UUID(tenant)
}

func (r *PostgresRegistry) PendingNarratives(ctx context.Context, tenant id.TenantID) (int, error) {
	const query = `
		SELECT COUNT(*) FROM politicians
		WHERE ai_narrative_pending AND ($1::uuid IS NULL OR tenant_id = $1::uuid)`
	var n int
	if err := r.db.QueryRowContext(ctx, query, tenantArg(tenant)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending narratives: %w", err)
	}
	return n, nil
}

func (r *PostgresRegistry) StaleProfiles(ctx context.Context, tenant id.TenantID, notUpdatedSince time.Time) (int, error) {
	const query = `
		SELECT COUNT(*) FROM politicians
		WHERE updated_at < $2 AND ($1::uuid IS NULL OR tenant_id = $1::uuid)`
	var n int
	if err := r.db.QueryRowContext(ctx, query, tenantArg(tenant), notUpdatedSince).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stale profiles: %w", err)
	}
	return n, nil
}

func (r *PostgresRegistry) RegionBreakdown(ctx context.Context, tenant id.TenantID, notUpdatedSince time.Time) ([]stats.RegionCounts, error) {
	const query = `
		SELECT state,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE ai_narrative_pending),
		       COUNT(*) FILTER (WHERE updated_at < $2)
		FROM politicians
		WHERE state <> '' AND ($1::uuid IS NULL OR tenant_id = $1::uuid)
		GROUP BY state
		ORDER BY state`
	rows, err := r.db.QueryContext(ctx, query, tenantArg(tenant), notUpdatedSince)
	if err != nil {
		return nil, fmt.Errorf("query region breakdown: %w", err)
	}
	defer rows.Close()

	out := []stats.RegionCounts{}
	for rows.Next() {
		var rc stats.RegionCounts
		if err := rows.Scan(&rc.State, &rc.Subjects, &rc.PendingAI, &rc.Stale); err != nil {
			return nil, fmt.Errorf("scan region breakdown: %w", err)
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate region breakdown: %w", err)
	}
	return out, nil
}

func (r *PostgresRegistry) SubjectRegions(ctx context.Context, subjects []id.SubjectID) (map[id.SubjectID]string, error) {
	out := make(map[id.SubjectID]string, len(subjects))
	if len(subjects) == 0 {
		return out, nil
	}
	ids := make([]string, len(subjects))
	for i, s := range subjects {
		ids[i] = s.String()
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, state FROM politicians WHERE id = ANY($1::uuid[]) AND state <> ''`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query subject regions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var subject uuid.UUID
		var state string
		if err := rows.Scan(&subject, &state); err != nil {
			return nil, fmt.Errorf("scan subject region: %w", err)
		}
		out[id.SubjectID(subject)] = state
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subject regions: %w", err)
	}
	return out, nil
}

// PostgresComplaints reads complaint counts from the complaints table.
type PostgresComplaints struct {
	db *sql.DB
}

func NewPostgresComplaints(db *sql.DB) *PostgresComplaints {
	return &PostgresComplaints{db: db}
}

func (c *PostgresComplaints) CountByStatus(ctx context.Context, tenant id.TenantID) (map[string]int, error) {
	const query = `
		SELECT status, COUNT(*) FROM complaints
		WHERE ($1::uuid IS NULL OR tenant_id = $1::uuid)
		GROUP BY status`
	rows, err := c.db.QueryContext(ctx, query, tenantArg(tenant))
	if err != nil {
		return nil, fmt.Errorf("count complaints by status: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan complaint count: %w", err)
		}
		out[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate complaint counts: %w", err)
	}
	return out, nil
}
