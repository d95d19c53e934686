package anchor_test

//go:generate mockgen -source=anchor.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"civicwatch/internal/integrity/anchor"
	"civicwatch/internal/integrity/anchor/mocks"
	"civicwatch/internal/integrity/metrics"
	"civicwatch/internal/integrity/models"
	"civicwatch/pkg/platform/circuit"
	"civicwatch/pkg/platform/sentinel"
	"civicwatch/pkg/requestcontext"
)

// =============================================================================
// Anchor Dispatcher Test Suite
// =============================================================================

type DispatcherSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	publisher *mocks.MockPublisher
	ledger    *mocks.MockLedger
	metrics   *metrics.Metrics
	breaker   *circuit.Breaker
	dispatch  *anchor.Dispatcher
	digest    models.Digest
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.ledger = mocks.NewMockLedger(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.breaker = circuit.New("anchor-test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	s.digest = models.Digest{Hash: "3f1c0d6e9b1a4d2e8f7a6b5c4d3e2f1a0b9c8d7e6f5a4b3c2d1e0f9a8b7c6d5e"}

	var err error
	s.dispatch, err = anchor.NewDispatcher(s.publisher, s.ledger,
		anchor.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		anchor.WithMetrics(s.metrics),
		anchor.WithBreaker(s.breaker),
		anchor.WithPublishTimeout(time.Second),
		anchor.WithCompleteRetry(2, time.Millisecond),
	)
	s.Require().NoError(err)
}

func (s *DispatcherSuite) outcomes(status anchor.Status) float64 {
	return testutil.ToFloat64(s.metrics.AnchorOutcomes.WithLabelValues(string(status)))
}

func (s *DispatcherSuite) TestConstruction() {
	s.Run("publisher is required", func() {
		_, err := anchor.NewDispatcher(nil, s.ledger)
		s.Error(err)
	})
	s.Run("ledger is required", func() {
		_, err := anchor.NewDispatcher(s.publisher, nil)
		s.Error(err)
	})
}

func (s *DispatcherSuite) TestAnchor() {
	ctx := context.Background()

	s.Run("publishes and completes a fresh digest", func() {
		gomock.InOrder(
			s.ledger.EXPECT().Claim(gomock.Any(), s.digest.Hash).Return("", nil),
			s.publisher.EXPECT().Publish(gomock.Any(), s.digest).Return("kafka://anchors/0/7", nil),
			s.ledger.EXPECT().Complete(gomock.Any(), s.digest.Hash, "kafka://anchors/0/7").Return(nil),
		)

		res := s.dispatch.Anchor(ctx, s.digest)
		s.Equal(anchor.StatusAnchored, res.Status)
		s.Equal("kafka://anchors/0/7", res.Reference)
		s.NoError(res.Err)
		s.False(res.Failed())
		s.Equal(1.0, s.outcomes(anchor.StatusAnchored))
	})

	s.Run("already anchored digest returns stored reference without publishing", func() {
		s.ledger.EXPECT().Claim(gomock.Any(), s.digest.Hash).Return("kafka://anchors/0/7", sentinel.ErrAlreadyUsed)

		res := s.dispatch.Anchor(ctx, s.digest)
		s.Equal(anchor.StatusAlreadyAnchored, res.Status)
		s.Equal("kafka://anchors/0/7", res.Reference)
		s.False(res.Failed())
	})

	s.Run("claim held elsewhere is a no-op", func() {
		s.ledger.EXPECT().Claim(gomock.Any(), s.digest.Hash).Return("", sentinel.ErrInFlight)

		res := s.dispatch.Anchor(ctx, s.digest)
		s.Equal(anchor.StatusInFlight, res.Status)
		s.Empty(res.Reference)
		s.False(res.Failed())
	})

	s.Run("ledger failure fails the attempt", func() {
		s.ledger.EXPECT().Claim(gomock.Any(), s.digest.Hash).Return("", errors.New("db down"))

		res := s.dispatch.Anchor(ctx, s.digest)
		s.True(res.Failed())
		s.ErrorContains(res.Err, "db down")
	})

	s.Run("publish failure releases the claim", func() {
		gomock.InOrder(
			s.ledger.EXPECT().Claim(gomock.Any(), s.digest.Hash).Return("", nil),
			s.publisher.EXPECT().Publish(gomock.Any(), s.digest).Return("", errors.New("broker unreachable")),
			s.ledger.EXPECT().Release(gomock.Any(), s.digest.Hash).Return(nil),
		)

		res := s.dispatch.Anchor(ctx, s.digest)
		s.True(res.Failed())
		s.ErrorContains(res.Err, "broker unreachable")
	})
}

func (s *DispatcherSuite) TestLedgerCompletion() {
	ctx := context.Background()

	s.Run("transient completion failure is retried", func() {
		gomock.InOrder(
			s.ledger.EXPECT().Claim(gomock.Any(), s.digest.Hash).Return("", nil),
			s.publisher.EXPECT().Publish(gomock.Any(), s.digest).Return("kafka://anchors/0/8", nil),
			s.ledger.EXPECT().Complete(gomock.Any(), s.digest.Hash, "kafka://anchors/0/8").Return(errors.New("db down")),
			s.ledger.EXPECT().Complete(gomock.Any(), s.digest.Hash, "kafka://anchors/0/8").Return(nil),
		)

		res := s.dispatch.Anchor(ctx, s.digest)
		s.Equal(anchor.StatusAnchored, res.Status)
		s.Equal("kafka://anchors/0/8", res.Reference)
	})

	s.Run("unrecorded publication is never published again", func() {
		other := models.Digest{Hash: "9e8d7c6b5a4f3e2d1c0b9a8f7e6d5c4b3a2f1e0d9c8b7a6f5e4d3c2b1a0f9e8d"}

		gomock.InOrder(
			s.ledger.EXPECT().Claim(gomock.Any(), other.Hash).Return("", nil),
			s.publisher.EXPECT().Publish(gomock.Any(), other).Return("kafka://anchors/1/4", nil),
			s.ledger.EXPECT().Complete(gomock.Any(), other.Hash, "kafka://anchors/1/4").
				Return(errors.New("db down")).Times(3),
		)
		res := s.dispatch.Anchor(ctx, other)
		s.Equal(anchor.StatusAnchored, res.Status)
		s.Equal("kafka://anchors/1/4", res.Reference)

		// The next run finishes the ledger entry without claiming or publishing.
		s.ledger.EXPECT().Complete(gomock.Any(), other.Hash, "kafka://anchors/1/4").Return(nil)
		res = s.dispatch.Anchor(ctx, other)
		s.Equal(anchor.StatusAlreadyAnchored, res.Status)
		s.Equal("kafka://anchors/1/4", res.Reference)
		s.False(res.Failed())

		// Once recorded, the ledger answers again.
		s.ledger.EXPECT().Claim(gomock.Any(), other.Hash).Return("kafka://anchors/1/4", sentinel.ErrAlreadyUsed)
		res = s.dispatch.Anchor(ctx, other)
		s.Equal(anchor.StatusAlreadyAnchored, res.Status)
	})

	s.Run("missing claim row is not retried", func() {
		third := models.Digest{Hash: "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"}

		gomock.InOrder(
			s.ledger.EXPECT().Claim(gomock.Any(), third.Hash).Return("", nil),
			s.publisher.EXPECT().Publish(gomock.Any(), third).Return("kafka://anchors/0/9", nil),
			s.ledger.EXPECT().Complete(gomock.Any(), third.Hash, "kafka://anchors/0/9").Return(sentinel.ErrNotFound),
		)
		res := s.dispatch.Anchor(ctx, third)
		s.Equal(anchor.StatusAnchored, res.Status)
	})
}

func (s *DispatcherSuite) TestCircuitBreaker() {
	ctx := context.Background()

	s.ledger.EXPECT().Claim(gomock.Any(), s.digest.Hash).Return("", nil).Times(3)
	s.ledger.EXPECT().Release(gomock.Any(), s.digest.Hash).Return(nil).Times(3)
	s.publisher.EXPECT().Publish(gomock.Any(), s.digest).Return("", errors.New("broker unreachable")).Times(2)

	s.True(s.dispatch.Anchor(ctx, s.digest).Failed())
	s.True(s.dispatch.Anchor(ctx, s.digest).Failed())
	s.True(s.breaker.IsOpen())

	res := s.dispatch.Anchor(ctx, s.digest)
	s.True(res.Failed())
	s.ErrorIs(res.Err, anchor.ErrCircuitOpen)
	s.Equal(3.0, s.outcomes(anchor.StatusFailed))
}

func (s *DispatcherSuite) TestDispatch() {
	s.Run("delivers one result and closes the channel", func() {
		gomock.InOrder(
			s.ledger.EXPECT().Claim(gomock.Any(), s.digest.Hash).Return("", nil),
			s.publisher.EXPECT().Publish(gomock.Any(), s.digest).Return("kafka://anchors/0/1", nil),
			s.ledger.EXPECT().Complete(gomock.Any(), s.digest.Hash, "kafka://anchors/0/1").Return(nil),
		)

		res, ok := <-s.dispatch.Dispatch(context.Background(), s.digest)
		s.Require().True(ok)
		s.Equal(anchor.StatusAnchored, res.Status)

		s.dispatch.Wait()
	})

	s.Run("caller cancellation does not abort publication", func() {
		ctx, cancel := context.WithCancel(context.Background())
		published := make(chan struct{})

		s.ledger.EXPECT().Claim(gomock.Any(), s.digest.Hash).Return("", nil)
		s.publisher.EXPECT().Publish(gomock.Any(), s.digest).DoAndReturn(
			func(pctx context.Context, _ models.Digest) (string, error) {
				<-published
				if err := pctx.Err(); err != nil {
					return "", err
				}
				return "kafka://anchors/0/2", nil
			})
		s.ledger.EXPECT().Complete(gomock.Any(), s.digest.Hash, "kafka://anchors/0/2").Return(nil)

		ch := s.dispatch.Dispatch(ctx, s.digest)
		cancel()
		close(published)

		res := <-ch
		s.Equal(anchor.StatusAnchored, res.Status)
		_, open := <-ch
		s.False(open)
	})

	s.Run("result may be ignored", func() {
		s.ledger.EXPECT().Claim(gomock.Any(), s.digest.Hash).Return("", sentinel.ErrInFlight)

		_ = s.dispatch.Dispatch(context.Background(), s.digest)
		s.dispatch.Wait()
	})
}

// =============================================================================
// In-memory ledger
// =============================================================================

func TestInMemoryLedger(t *testing.T) {
	s := new(LedgerSuite)
	suite.Run(t, s)
}

type LedgerSuite struct {
	suite.Suite
}

func (s *LedgerSuite) TestClaimLifecycle() {
	ledger := anchor.NewInMemoryLedger(time.Minute)
	ctx := context.Background()

	ref, err := ledger.Claim(ctx, "h1")
	s.Require().NoError(err)
	s.Empty(ref)

	_, err = ledger.Claim(ctx, "h1")
	s.ErrorIs(err, sentinel.ErrInFlight)

	s.Require().NoError(ledger.Complete(ctx, "h1", "kafka://anchors/0/3"))

	ref, err = ledger.Claim(ctx, "h1")
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	s.Equal("kafka://anchors/0/3", ref)

	// Release never undoes an anchored digest.
	s.Require().NoError(ledger.Release(ctx, "h1"))
	stored, ok := ledger.Reference("h1")
	s.True(ok)
	s.Equal("kafka://anchors/0/3", stored)
}

func (s *LedgerSuite) TestReleaseAllowsRetry() {
	ledger := anchor.NewInMemoryLedger(time.Minute)
	ctx := context.Background()

	_, err := ledger.Claim(ctx, "h2")
	s.Require().NoError(err)
	s.Require().NoError(ledger.Release(ctx, "h2"))

	_, err = ledger.Claim(ctx, "h2")
	s.NoError(err)
}

func (s *LedgerSuite) TestCompleteUnknownHash() {
	ledger := anchor.NewInMemoryLedger(time.Minute)
	s.ErrorIs(ledger.Complete(context.Background(), "missing", "ref"), sentinel.ErrNotFound)
}

func (s *LedgerSuite) TestConcurrentClaimsHaveOneOwner() {
	ledger := anchor.NewInMemoryLedger(time.Minute)
	ctx := context.Background()

	const workers = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		owners int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Claim(ctx, "h3"); err == nil {
				mu.Lock()
				owners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, owners)
}

func (s *LedgerSuite) TestAbandonedClaimIsTakenOver() {
	ledger := anchor.NewInMemoryLedger(time.Minute)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := ledger.Claim(requestcontext.WithTime(context.Background(), start), "h4")
	s.Require().NoError(err)

	_, err = ledger.Claim(requestcontext.WithTime(context.Background(), start.Add(59*time.Second)), "h4")
	s.ErrorIs(err, sentinel.ErrInFlight)

	_, err = ledger.Claim(requestcontext.WithTime(context.Background(), start.Add(time.Minute)), "h4")
	s.NoError(err)
}
