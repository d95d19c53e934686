// Package handler exposes audit reads, on-demand audit runs and vote
// submission over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"civicwatch/internal/integrity/models"
	"civicwatch/internal/integrity/service"
	"civicwatch/internal/integrity/votes"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
	"civicwatch/pkg/platform/httputil"
	"civicwatch/pkg/requestcontext"
)

// AuditService is the engine surface used by the handlers.
type AuditService interface {
	ComputeAudit(ctx context.Context, tenant id.TenantID, snapshot bool) (service.Result, error)
	Latest(ctx context.Context, tenant id.TenantID) (models.LatestAudit, error)
	Snapshots(ctx context.Context, tenant id.TenantID, limit int) ([]models.Snapshot, error)
	VerifySnapshot(ctx context.Context, snapshotID id.SnapshotID) (service.Verification, error)
}

// VoteService accepts votes and inspects a subject's audit trail.
type VoteService interface {
	CastVote(ctx context.Context, req votes.CastRequest) (*models.VoteRecord, error)
	VerifyTrail(ctx context.Context, tenant id.TenantID, subject id.SubjectID) (votes.TrailReport, error)
}

type Handler struct {
	audits AuditService
	votes  VoteService
	logger *slog.Logger
}

func New(audits AuditService, voteService VoteService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{audits: audits, votes: voteService, logger: logger}
}

// RegisterRead mounts the read-only audit endpoints. None of them computes
// an audit.
func (h *Handler) RegisterRead(r chi.Router) {
	r.Get("/audit/latest", h.HandleLatest)
	r.Get("/audit/latest/hash", h.HandleLatestHash)
	r.Get("/audit/snapshots", h.HandleSnapshots)
	r.Get("/audit/snapshots/{id}/verify", h.HandleVerifySnapshot)
}

// RegisterVotes mounts vote submission. The caller must install voter
// authentication in front of it.
func (h *Handler) RegisterVotes(r chi.Router) {
	r.Post("/votes", h.HandleCastVote)
}

// RegisterAdmin mounts operator endpoints behind the admin token.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/audit/run", h.HandleRunAudit)
	r.Get("/admin/votes/{subject}/trail", h.HandleVoteTrail)
}

func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, err := id.ParseOptionalTenantID(r.URL.Query().Get("tenant"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.audits.Latest(ctx, tenant)
	if err != nil {
		h.writeServiceError(ctx, w, "read latest audit", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LatestAuditResponse{
		Report:     rec.Report,
		Hash:       rec.Digest.Hash,
		ComputedAt: rec.ComputedAt,
	})
}

func (h *Handler) HandleLatestHash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, err := id.ParseOptionalTenantID(r.URL.Query().Get("tenant"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.audits.Latest(ctx, tenant)
	if err != nil {
		h.writeServiceError(ctx, w, "read latest digest", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DigestResponse{
		Hash:       rec.Digest.Hash,
		Algorithm:  "sha256",
		ComputedAt: rec.ComputedAt,
	})
}

func (h *Handler) HandleSnapshots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	tenant, err := id.ParseOptionalTenantID(q.Get("tenant"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
	}
	snaps, err := h.audits.Snapshots(ctx, tenant, limit)
	if err != nil {
		h.writeServiceError(ctx, w, "list snapshots", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SnapshotListResponse{
		Tenant:    tenant.String(),
		Snapshots: toSummaries(snaps),
	})
}

func (h *Handler) HandleVerifySnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snapshotID, err := id.ParseSnapshotID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := h.audits.VerifySnapshot(ctx, snapshotID)
	if err != nil {
		h.writeServiceError(ctx, w, "verify snapshot", err)
		return
	}
	if !v.Valid {
		h.logger.ErrorContext(ctx, "snapshot digest mismatch",
			"request_id", requestcontext.RequestID(ctx),
			"snapshot_id", snapshotID.String(),
			"stored_hash", v.StoredHash,
			"computed_hash", v.ComputedHash,
		)
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) HandleRunAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[RunAuditRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tenant, err := id.ParseOptionalTenantID(req.Tenant)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.audits.ComputeAudit(ctx, tenant, req.Snapshot)
	if err != nil {
		h.writeServiceError(ctx, w, "run audit", err)
		return
	}

	resp := RunAuditResponse{
		Report:     res.Report,
		Hash:       res.Digest.Hash,
		Anchoring:  res.Anchor != nil,
		Conditions: res.Conditions,
	}
	if resp.Conditions == nil {
		resp.Conditions = []models.Condition{}
	}
	if res.Snapshot != nil {
		resp.SnapshotID = res.Snapshot.ID.String()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleCastVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	voter := requestcontext.VoterID(ctx)
	if voter.IsNil() {
		h.logger.ErrorContext(ctx, "voter missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "voter authentication required"))
		return
	}

	req, err := httputil.DecodeJSON[CastVoteRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tenant, err := id.ParseOptionalTenantID(req.Tenant)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	subject, err := id.ParseSubjectID(req.Subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	voteType, err := models.ParseVoteType(req.Type)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.votes.CastVote(ctx, votes.CastRequest{
		Tenant:    tenant,
		Subject:   subject,
		Voter:     voter,
		Type:      voteType,
		IPAddress: requestcontext.ClientIP(ctx),
	})
	if err != nil {
		var rej *votes.Rejection
		if errors.As(err, &rej) {
			httputil.WriteReason(w, httputil.StatusFor(rej.Reason.Code()), string(rej.Reason), "vote was not accepted")
			return
		}
		h.writeServiceError(ctx, w, "cast vote", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, record)
}

func (h *Handler) HandleVoteTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, err := id.ParseOptionalTenantID(r.URL.Query().Get("tenant"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	subject, err := id.ParseSubjectID(chi.URLParam(r, "subject"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, err := h.votes.VerifyTrail(ctx, tenant, subject)
	if err != nil {
		h.writeServiceError(ctx, w, "verify vote trail", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TrailResponse{
		Subject:    report.Subject.String(),
		Entries:    report.Entries,
		Consistent: report.Consistent(),
		Violations: report.Violations,
	})
}

// writeServiceError logs server-side failures and writes the mapped response.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	status := httputil.StatusFor(dErrors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
