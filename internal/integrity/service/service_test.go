package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"civicwatch/internal/integrity/anchor"
	"civicwatch/internal/integrity/anchor/mocks"
	"civicwatch/internal/integrity/digest"
	"civicwatch/internal/integrity/latest"
	"civicwatch/internal/integrity/metrics"
	"civicwatch/internal/integrity/models"
	"civicwatch/internal/integrity/scoring"
	"civicwatch/internal/integrity/service"
	"civicwatch/internal/integrity/snapshot"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
	"civicwatch/pkg/requestcontext"
)

// =============================================================================
// Engine Test Suite
// =============================================================================

type fakeCollector struct {
	stats models.RawStats
	err   error
	calls int
}

func (f *fakeCollector) Collect(ctx context.Context, _ id.TenantID) (models.RawStats, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return models.RawStats{}, err
	}
	return f.stats, f.err
}

// failingLatest fails every Latest call on the snapshot store.
type failingLatest struct {
	*snapshot.InMemoryStore
}

func (failingLatest) Latest(context.Context, id.TenantID, int) ([]models.Snapshot, error) {
	return nil, errors.New("connection refused")
}

// rejectingPut fails every Put on the latest store.
type rejectingPut struct {
	*latest.InMemoryStore
}

func (rejectingPut) Put(context.Context, id.TenantID, models.LatestAudit) error {
	return errors.New("redis: connection pool timeout")
}

type EngineSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	publisher *mocks.MockPublisher
	collector *fakeCollector
	snapshots *snapshot.InMemoryStore
	latest    *latest.InMemoryStore
	metrics   *metrics.Metrics
	engine    *service.Engine
	tenant    id.TenantID
	now       time.Time
	ctx       context.Context
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.collector = &fakeCollector{stats: models.RawStats{
		PendingAI:      models.IntPtr(10),
		VoteAnomalies:  models.IntPtr(0),
		StaleProfiles:  models.IntPtr(0),
		OpenComplaints: models.IntPtr(3),
	}}
	s.snapshots = snapshot.NewInMemory()
	s.latest = latest.NewInMemory()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.tenant = id.TenantID(uuid.New())
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	dispatcher, err := anchor.NewDispatcher(s.publisher, anchor.NewInMemoryLedger(time.Minute))
	s.Require().NoError(err)
	s.engine = s.newEngine(s.snapshots, service.WithAnchorer(dispatcher))
}

func (s *EngineSuite) newEngine(store snapshot.Store, opts ...service.Option) *service.Engine {
	opts = append([]service.Option{
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		service.WithMetrics(s.metrics),
	}, opts...)
	e, err := service.New(s.collector, store, s.latest, opts...)
	s.Require().NoError(err)
	return e
}

func (s *EngineSuite) conditions(code models.ConditionCode) float64 {
	return testutil.ToFloat64(s.metrics.Conditions.WithLabelValues(string(code)))
}

func (s *EngineSuite) TestNew() {
	_, err := service.New(nil, s.snapshots, s.latest)
	s.Error(err)
	_, err = service.New(s.collector, nil, s.latest)
	s.Error(err)
	_, err = service.New(s.collector, s.snapshots, nil)
	s.Error(err)
}

// =============================================================================
// ComputeAudit
// =============================================================================

func (s *EngineSuite) TestComputeAuditWithoutSnapshot() {
	res, err := s.engine.ComputeAudit(s.ctx, s.tenant, false)
	s.Require().NoError(err)

	s.Equal(95, res.Report.HealthScore)
	s.Equal(models.RiskLow, res.Report.RiskLevel)
	s.Equal(s.now, res.Report.GeneratedAt)
	s.Equal(digest.Of(res.Report), res.Digest)
	s.Nil(res.Snapshot)
	s.Nil(res.Anchor, "no anchoring without a snapshot")
	s.Empty(res.Conditions)

	snaps, err := s.snapshots.Latest(s.ctx, s.tenant, 10)
	s.Require().NoError(err)
	s.Empty(snaps)

	rec, ok, err := s.latest.Get(s.ctx, s.tenant)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(res.Digest, rec.Digest)
}

func (s *EngineSuite) TestComputeAuditWithSnapshotAnchorsDigest() {
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return("kafka://anchors/0/1", nil)

	res, err := s.engine.ComputeAudit(s.ctx, s.tenant, true)
	s.Require().NoError(err)
	s.Require().NotNil(res.Snapshot)
	s.Equal(res.Digest.Hash, res.Snapshot.Hash)
	s.Require().NotNil(res.Anchor)

	ar := <-res.Anchor
	s.Equal(anchor.StatusAnchored, ar.Status)
	s.Equal(res.Digest, ar.Digest)
}

func (s *EngineSuite) TestDriftAgainstPreviousSnapshot() {
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return("kafka://anchors/0/1", nil).AnyTimes()

	first, err := s.engine.ComputeAudit(s.ctx, s.tenant, true)
	s.Require().NoError(err)
	<-first.Anchor

	s.collector.stats.VoteAnomalies = models.IntPtr(20)
	later := requestcontext.WithTime(context.Background(), s.now.Add(time.Hour))
	second, err := s.engine.ComputeAudit(later, s.tenant, true)
	s.Require().NoError(err)
	<-second.Anchor

	s.Equal(60-95, second.Report.Stats.HealthDrift)
	// 40 + (40 - 100) clamps to 0
	s.Zero(second.Report.Stats.ProjectedStability)
}

func (s *EngineSuite) TestUnavailableCollaboratorIsACondition() {
	s.collector.stats.VoteAnomalies = nil
	s.collector.stats.Unavailable = []string{"vote_anomalies"}

	res, err := s.engine.ComputeAudit(s.ctx, s.tenant, false)
	s.Require().NoError(err)
	s.True(res.Has(models.ConditionCollaboratorUnavailable))
	s.Equal(65, res.Report.HealthScore)
	s.Equal(1.0, s.conditions(models.ConditionCollaboratorUnavailable))
}

func (s *EngineSuite) TestSnapshotPersistFailureKeepsReport() {
	s.snapshots.Err = errors.New("disk full")
	// the digest is still anchored
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return("kafka://anchors/0/2", nil)

	res, err := s.engine.ComputeAudit(s.ctx, s.tenant, true)
	s.Require().NoError(err)
	s.True(res.Has(models.ConditionSnapshotPersistFailed))
	s.Nil(res.Snapshot)
	s.True(digest.Verify(res.Report, res.Digest.Hash))
	s.Equal(1.0, s.conditions(models.ConditionSnapshotPersistFailed))

	s.Require().NotNil(res.Anchor)
	s.Equal(anchor.StatusAnchored, (<-res.Anchor).Status)
}

func (s *EngineSuite) TestAnchorFailureIsACondition() {
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return("", errors.New("broker unreachable"))

	res, err := s.engine.ComputeAudit(s.ctx, s.tenant, true)
	s.Require().NoError(err)
	s.NotNil(res.Snapshot, "report is persisted regardless of anchoring")

	ar := <-res.Anchor
	s.True(ar.Failed())
	_, open := <-res.Anchor
	s.False(open)
	s.Equal(1.0, s.conditions(models.ConditionAnchorPublishFailed))
}

func (s *EngineSuite) TestPreviousSnapshotUnavailable() {
	e := s.newEngine(failingLatest{s.snapshots})

	res, err := e.ComputeAudit(s.ctx, s.tenant, false)
	s.Require().NoError(err)
	s.True(res.Has(models.ConditionCollaboratorUnavailable))
	s.Zero(res.Report.Stats.HealthDrift)
}

func (s *EngineSuite) TestCancelledRunPersistsNothing() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.engine.ComputeAudit(ctx, s.tenant, true)
	s.ErrorIs(err, context.Canceled)

	snaps, err := s.snapshots.Latest(s.ctx, s.tenant, 10)
	s.Require().NoError(err)
	s.Empty(snaps)
	_, ok, err := s.latest.Get(s.ctx, s.tenant)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *EngineSuite) TestDeterministicDigest() {
	a, err := s.engine.ComputeAudit(s.ctx, s.tenant, false)
	s.Require().NoError(err)
	b, err := s.engine.ComputeAudit(s.ctx, s.tenant, false)
	s.Require().NoError(err)

	s.Equal(a.Digest, b.Digest)
	s.Equal(a.Digest, s.engine.DigestOf(b.Report))
}

// =============================================================================
// Reads
// =============================================================================

func (s *EngineSuite) TestLatestNeverComputes() {
	_, err := s.engine.Latest(s.ctx, s.tenant)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Zero(s.collector.calls)
}

func (s *EngineSuite) TestLatestFromRecord() {
	res, err := s.engine.ComputeAudit(s.ctx, s.tenant, false)
	s.Require().NoError(err)

	rec, err := s.engine.Latest(s.ctx, s.tenant)
	s.Require().NoError(err)
	s.Equal(res.Digest, rec.Digest)
	s.Equal(1, s.collector.calls)
}

func (s *EngineSuite) TestLatestFallsBackToSnapshots() {
	report := s.reportAt(s.now)
	snap, err := s.snapshots.Append(s.ctx, report, digest.Of(report))
	s.Require().NoError(err)

	rec, err := s.engine.Latest(s.ctx, s.tenant)
	s.Require().NoError(err)
	s.Equal(snap.Hash, rec.Digest.Hash)
	s.Equal(snap.CreatedAt, rec.ComputedAt)
	s.Zero(s.collector.calls)
}

func (s *EngineSuite) TestFailedRecordUpdateDropsStaleRecord() {
	stale := s.reportAt(s.now.Add(-time.Hour))
	store := rejectingPut{latest.NewInMemory()}
	s.Require().NoError(store.InMemoryStore.Put(s.ctx, s.tenant,
		models.LatestAudit{Report: stale, Digest: digest.Of(stale), ComputedAt: stale.GeneratedAt}))

	e, err := service.New(s.collector, s.snapshots, store,
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)

	res, err := e.ComputeAudit(s.ctx, s.tenant, true)
	s.Require().NoError(err)
	s.Require().NotNil(res.Snapshot)

	rec, err := e.Latest(s.ctx, s.tenant)
	s.Require().NoError(err)
	s.Equal(res.Digest, rec.Digest, "served from the new snapshot, not the stale record")
}

func (s *EngineSuite) TestSnapshotsLimit() {
	for i := range 12 {
		r := s.reportAt(s.now.Add(time.Duration(i) * time.Minute))
		_, err := s.snapshots.Append(requestcontext.WithTime(s.ctx, r.GeneratedAt), r, digest.Of(r))
		s.Require().NoError(err)
	}

	s.Run("default limit", func() {
		snaps, err := s.engine.Snapshots(s.ctx, s.tenant, 0)
		s.Require().NoError(err)
		s.Len(snaps, service.DefaultSnapshotLimit)
		s.True(snaps[0].CreatedAt.After(snaps[1].CreatedAt))
	})

	s.Run("explicit limit", func() {
		snaps, err := s.engine.Snapshots(s.ctx, s.tenant, 3)
		s.Require().NoError(err)
		s.Len(snaps, 3)
	})

	s.Run("oversized limit is capped", func() {
		snaps, err := s.engine.Snapshots(s.ctx, s.tenant, 1000)
		s.Require().NoError(err)
		s.Len(snaps, 12)
	})
}

func (s *EngineSuite) TestVerifySnapshot() {
	report := s.reportAt(s.now)
	snap, err := s.snapshots.Append(s.ctx, report, digest.Of(report))
	s.Require().NoError(err)

	s.Run("intact snapshot verifies", func() {
		v, err := s.engine.VerifySnapshot(s.ctx, snap.ID)
		s.Require().NoError(err)
		s.True(v.Valid)
		s.Equal(v.StoredHash, v.ComputedHash)
	})

	s.Run("unknown snapshot is not found", func() {
		_, err := s.engine.VerifySnapshot(s.ctx, id.SnapshotID(uuid.New()))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *EngineSuite) reportAt(at time.Time) models.AuditReport {
	return scoring.Score(scoring.Input{GeneratedAt: at, Tenant: s.tenant, Stats: s.collector.stats})
}
