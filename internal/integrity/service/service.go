// Package service runs audits end to end and serves already-computed audit
// state to readers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"civicwatch/internal/integrity/anchor"
	"civicwatch/internal/integrity/digest"
	"civicwatch/internal/integrity/latest"
	"civicwatch/internal/integrity/metrics"
	"civicwatch/internal/integrity/models"
	"civicwatch/internal/integrity/scoring"
	"civicwatch/internal/integrity/snapshot"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
	"civicwatch/pkg/platform/sentinel"
	"civicwatch/pkg/requestcontext"
)

// DefaultSnapshotLimit is used when a listing does not ask for a size.
const DefaultSnapshotLimit = 10

// Result is the outcome of one ComputeAudit call. Report and Digest are always
// valid; Conditions lists what degraded along the way.
type Result struct {
	Report     models.AuditReport
	Digest     models.Digest
	Snapshot   *models.Snapshot
	Conditions []models.Condition
	// Anchor receives the anchoring outcome when one was started, and is nil
	// otherwise. Reading it is optional.
	Anchor <-chan anchor.Result
}

// Has reports whether the run recorded a condition with code.
func (r Result) Has(code models.ConditionCode) bool {
	for _, c := range r.Conditions {
		if c.Code == code {
			return true
		}
	}
	return false
}

// Verification compares a stored snapshot hash with a fresh digest of its
// stored report.
type Verification struct {
	SnapshotID   id.SnapshotID `json:"snapshotId"`
	StoredHash   string        `json:"storedHash"`
	ComputedHash string        `json:"computedHash"`
	Valid        bool          `json:"valid"`
}

// Engine wires the collector, scoring, hashing, persistence and anchoring.
type Engine struct {
	collector Collector
	snapshots snapshot.Store
	latest    latest.Store
	anchorer  Anchorer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithAnchorer enables anchoring of snapshotted digests.
func WithAnchorer(a Anchorer) Option {
	return func(e *Engine) {
		e.anchorer = a
	}
}

func New(collector Collector, snapshots snapshot.Store, latestStore latest.Store, opts ...Option) (*Engine, error) {
	if collector == nil {
		return nil, errors.New("service: collector is required")
	}
	if snapshots == nil {
		return nil, errors.New("service: snapshot store is required")
	}
	if latestStore == nil {
		return nil, errors.New("service: latest store is required")
	}
	e := &Engine{
		collector: collector,
		snapshots: snapshots,
		latest:    latestStore,
		tracer:    otel.Tracer("civicwatch/integrity/service"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ComputeAudit collects stats, scores and hashes the report, and records it as
// the tenant's latest audit. With persist set it also appends a snapshot and
// starts anchoring its digest.
//
// Collaborator, persistence and anchoring failures never fail the call; they
// are returned as conditions. The only error is cancellation of ctx, in which
// case nothing is persisted or anchored.
func (e *Engine) ComputeAudit(ctx context.Context, tenant id.TenantID, persist bool) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "service.ComputeAudit", trace.WithAttributes(
		attribute.String("tenant_id", tenant.String()),
		attribute.Bool("snapshot", persist),
	))
	defer span.End()
	start := time.Now()

	res, err := e.compute(ctx, tenant, persist)
	e.metrics.ObserveAuditDuration(time.Since(start))
	if err != nil {
		e.metrics.IncAuditRun("cancelled")
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit aborted")
		e.log(ctx, slog.LevelWarn, "audit aborted", "tenant_id", tenant.String(), "error", err)
		return Result{}, err
	}

	outcome := "ok"
	if len(res.Conditions) > 0 {
		outcome = "degraded"
	}
	e.metrics.IncAuditRun(outcome)
	e.metrics.SetHealthScore(tenant.String(), res.Report.HealthScore)
	span.SetAttributes(
		attribute.Int("health_score", res.Report.HealthScore),
		attribute.String("risk_level", res.Report.RiskLevel.String()),
	)
	e.log(ctx, slog.LevelInfo, "audit computed",
		"request_id", requestcontext.RequestID(ctx),
		"tenant_id", tenant.String(),
		"health_score", res.Report.HealthScore,
		"risk_level", res.Report.RiskLevel,
		"hash", res.Digest.Hash,
		"conditions", len(res.Conditions),
	)
	return res, nil
}

func (e *Engine) compute(ctx context.Context, tenant id.TenantID, persist bool) (Result, error) {
	var res Result

	raw, err := e.collector.Collect(ctx, tenant)
	if err != nil {
		return Result{}, err
	}
	for _, source := range raw.Unavailable {
		res.addCondition(e.metrics, models.ConditionCollaboratorUnavailable, source)
	}

	var previous *models.Snapshot
	prior, err := e.snapshots.Latest(ctx, tenant, 1)
	switch {
	case ctx.Err() != nil:
		return Result{}, ctx.Err()
	case err != nil:
		res.addCondition(e.metrics, models.ConditionCollaboratorUnavailable, "previous_snapshot")
		e.log(ctx, slog.LevelWarn, "previous snapshot unavailable", "tenant_id", tenant.String(), "error", err)
	case len(prior) > 0:
		previous = &prior[0]
	}

	res.Report = scoring.Score(scoring.Input{
		GeneratedAt: requestcontext.Now(ctx),
		Tenant:      tenant,
		Stats:       raw,
		Previous:    previous,
	})
	res.Digest = digest.Of(res.Report)

	// Last abort point: past here the report is visible to others.
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if persist {
		snap, err := e.snapshots.Append(ctx, res.Report, res.Digest)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			res.addCondition(e.metrics, models.ConditionSnapshotPersistFailed, err.Error())
			e.log(ctx, slog.LevelError, "snapshot persist failed",
				"tenant_id", tenant.String(),
				"hash", res.Digest.Hash,
				"error", err,
			)
		} else {
			res.Snapshot = &snap
		}
	}

	rec := models.LatestAudit{Report: res.Report, Digest: res.Digest, ComputedAt: res.Report.GeneratedAt}
	if err := e.latest.Put(context.WithoutCancel(ctx), tenant, rec); err != nil {
		e.log(ctx, slog.LevelWarn, "latest audit record not updated", "tenant_id", tenant.String(), "error", err)
		// A kept record would now be older than the newest snapshot.
		if ierr := e.latest.Invalidate(context.WithoutCancel(ctx), tenant); ierr != nil {
			e.log(ctx, slog.LevelError, "stale latest audit record not invalidated",
				"tenant_id", tenant.String(),
				"error", ierr,
			)
		}
	}

	if persist && e.anchorer != nil {
		res.Anchor = e.watchAnchor(ctx, e.anchorer.Dispatch(ctx, res.Digest))
	}
	return res, nil
}

// watchAnchor counts a failed anchoring attempt as a condition and forwards
// the result to the caller.
func (e *Engine) watchAnchor(ctx context.Context, in <-chan anchor.Result) <-chan anchor.Result {
	out := make(chan anchor.Result, 1)
	go func() {
		defer close(out)
		for r := range in {
			if r.Failed() {
				e.metrics.IncCondition(string(models.ConditionAnchorPublishFailed))
				e.log(ctx, slog.LevelWarn, "anchor_publish_failed", "hash", r.Digest.Hash, "error", r.Err)
			}
			out <- r
		}
	}()
	return out
}

func (r *Result) addCondition(m *metrics.Metrics, code models.ConditionCode, detail string) {
	r.Conditions = append(r.Conditions, models.Condition{Code: code, Detail: detail})
	m.IncCondition(string(code))
}

// DigestOf returns the digest of report.
func (e *Engine) DigestOf(report models.AuditReport) models.Digest {
	return digest.Of(report)
}

// Latest returns the tenant's most recent audit from stored state. It never
// computes one.
func (e *Engine) Latest(ctx context.Context, tenant id.TenantID) (models.LatestAudit, error) {
	rec, ok, err := e.latest.Get(ctx, tenant)
	if err != nil {
		e.log(ctx, slog.LevelWarn, "latest audit record unavailable, reading snapshots",
			"tenant_id", tenant.String(), "error", err)
	}
	if err == nil && ok {
		return rec, nil
	}

	snaps, err := e.snapshots.Latest(ctx, tenant, 1)
	if err != nil {
		return models.LatestAudit{}, translate(err, "read latest snapshot")
	}
	if len(snaps) == 0 {
		return models.LatestAudit{}, dErrors.New(dErrors.CodeNotFound, "no audit has been computed yet")
	}
	s := snaps[0]
	return models.LatestAudit{Report: s.Report, Digest: models.Digest{Hash: s.Hash}, ComputedAt: s.CreatedAt}, nil
}

// Snapshots lists up to limit snapshots newest first. A non-positive limit
// means DefaultSnapshotLimit.
func (e *Engine) Snapshots(ctx context.Context, tenant id.TenantID, limit int) ([]models.Snapshot, error) {
	if limit <= 0 {
		limit = DefaultSnapshotLimit
	}
	limit = min(limit, snapshot.MaxListLimit)
	snaps, err := e.snapshots.Latest(ctx, tenant, limit)
	if err != nil {
		return nil, translate(err, "list snapshots")
	}
	return snaps, nil
}

// VerifySnapshot re-hashes a stored report and compares it with its stored
// digest.
func (e *Engine) VerifySnapshot(ctx context.Context, snapshotID id.SnapshotID) (Verification, error) {
	snap, err := e.snapshots.FindByID(ctx, snapshotID)
	if err != nil {
		return Verification{}, translate(err, "find snapshot")
	}
	computed := digest.Of(snap.Report)
	return Verification{
		SnapshotID:   snap.ID,
		StoredHash:   snap.Hash,
		ComputedHash: computed.Hash,
		Valid:        digest.Verify(snap.Report, snap.Hash),
	}, nil
}

func translate(err error, op string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "snapshot not found")
	case isCoded(err):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, fmt.Sprintf("%s failed", op))
	}
}

func isCoded(err error) bool {
	var de *dErrors.Error
	return errors.As(err, &de)
}

func (e *Engine) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if e.logger != nil {
		e.logger.Log(ctx, level, msg, args...)
	}
}
