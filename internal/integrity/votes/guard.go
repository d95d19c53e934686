// Package votes is the vote integrity guard: one vote per voter per subject,
// a sliding-window cap on accepted votes per subject, and an append-only
// trail of counter deltas.
//
// All counter mutation goes through Guard.CastVote. The store's transaction is
// the serialization point; the guard never keeps counters in memory.
package votes

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"civicwatch/internal/integrity/metrics"
	"civicwatch/internal/integrity/models"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
	"civicwatch/pkg/platform/sentinel"
	"civicwatch/pkg/requestcontext"
)

const (
	DefaultRateWindow      = 10 * time.Minute
	DefaultRateLimit       = 200
	DefaultBurstWindow     = time.Minute
	DefaultBurstThreshold  = 30
	DefaultAnomalyLookback = 24 * time.Hour
)

// CastRequest is the input of CastVote.
type CastRequest struct {
	Tenant    id.TenantID
	Subject   id.SubjectID
	Voter     id.VoterID
	Type      models.VoteType
	IPAddress string
}

// Guard enforces vote integrity on top of a Store.
type Guard struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	rateWindow      time.Duration
	rateLimit       int
	burstWindow     time.Duration
	burstThreshold  int
	anomalyLookback time.Duration
}

// Option configures a Guard.
type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// WithRateLimit caps accepted votes per subject within the trailing window.
// Non-positive values keep the defaults.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(g *Guard) {
		if limit > 0 {
			g.rateLimit = limit
		}
		if window > 0 {
			g.rateWindow = window
		}
	}
}

// WithBurstDetection configures how anomalies are derived from the trail: a
// bucket of length window holding more than threshold accepted votes for one
// subject is one anomaly, counted over the trailing lookback.
func WithBurstDetection(window time.Duration, threshold int, lookback time.Duration) Option {
	return func(g *Guard) {
		if window > 0 {
			g.burstWindow = window
		}
		if threshold > 0 {
			g.burstThreshold = threshold
		}
		if lookback > 0 {
			g.anomalyLookback = lookback
		}
	}
}

// NewGuard builds a Guard with the default limits.
func NewGuard(store Store, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, errors.New("votes: store is required")
	}
	g := &Guard{
		store:           store,
		tracer:          otel.Tracer("civicwatch/votes"),
		rateWindow:      DefaultRateWindow,
		rateLimit:       DefaultRateLimit,
		burstWindow:     DefaultBurstWindow,
		burstThreshold:  DefaultBurstThreshold,
		anomalyLookback: DefaultAnomalyLookback,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// CastVote accepts or rejects one vote. On success the vote record, the new
// counters and one audit entry are committed together. A refused vote returns
// a *Rejection and changes nothing. Malformed input returns a validation error.
func (g *Guard) CastVote(ctx context.Context, req CastRequest) (*models.VoteRecord, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	ctx, span := g.tracer.Start(ctx, "votes.CastVote", trace.WithAttributes(
		attribute.String("tenant_id", req.Tenant.String()),
		attribute.String("subject_id", req.Subject.String()),
		attribute.String("vote_type", req.Type.String()),
	))
	defer span.End()

	start := time.Now()
	now := requestcontext.Now(ctx).UTC()
	record := models.VoteRecord{
		TenantID:  req.Tenant,
		SubjectID: req.Subject,
		VoterID:   req.Voter,
		VoteType:  req.Type,
		IPAddress: req.IPAddress,
		CreatedAt: now,
	}

	var entry models.VoteAuditEntry
	err := g.store.RunInTx(ctx, func(ctx context.Context, tx TxStore) error {
		// Locking the counters first serializes every cast on this subject,
		// so the window count below cannot go stale before commit.
		counters, err := tx.LockCounters(ctx, req.Tenant, req.Subject)
		if err != nil {
			return err
		}

		recent, err := tx.CountEntriesSince(ctx, req.Subject, now.Add(-g.rateWindow))
		if err != nil {
			return err
		}
		if recent >= g.rateLimit {
			return &Rejection{Reason: ReasonRateLimitExceeded, Subject: req.Subject}
		}

		if err := tx.InsertVote(ctx, record); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return &Rejection{Reason: ReasonAlreadyVoted, Subject: req.Subject}
			}
			return err
		}

		next := counters.Apply(req.Type)
		if err := tx.UpdateCounters(ctx, req.Tenant, req.Subject, next); err != nil {
			return err
		}

		prev, cur := counters.Side(req.Type), next.Side(req.Type)
		entry, err = tx.AppendEntry(ctx, models.VoteAuditEntry{
			TenantID:      req.Tenant,
			SubjectID:     req.Subject,
			VoteType:      req.Type,
			PreviousCount: prev,
			NewCount:      cur,
			Delta:         cur - prev,
			CreatedAt:     now,
		})
		return err
	})
	g.metrics.ObserveCastDuration(time.Since(start))

	if err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			g.metrics.IncVoteRejected(string(rej.Reason))
			span.SetAttributes(attribute.String("rejection", string(rej.Reason)))
			if g.logger != nil {
				g.logger.InfoContext(ctx, "vote rejected",
					"request_id", requestcontext.RequestID(ctx),
					"tenant_id", req.Tenant.String(),
					"subject_id", req.Subject.String(),
					"reason", rej.Reason,
				)
			}
			return nil, rej
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "cast vote failed")
		return nil, translateStoreError(err)
	}

	g.metrics.IncVoteAccepted()
	if g.logger != nil {
		g.logger.InfoContext(ctx, "vote accepted",
			"request_id", requestcontext.RequestID(ctx),
			"tenant_id", req.Tenant.String(),
			"subject_id", req.Subject.String(),
			"vote_type", req.Type,
			"new_count", entry.NewCount,
		)
	}
	return &record, nil
}

func validate(req CastRequest) error {
	if req.Subject.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "subject is required")
	}
	if req.Voter.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "voter is required")
	}
	if !req.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "vote type must be 'up' or 'down'")
	}
	return nil
}

func translateStoreError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "subject not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "cast vote failed")
	}
}
