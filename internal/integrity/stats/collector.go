// Package stats gathers the raw signals an audit is scored from.
//
// Collect never fails because a collaborator failed: each source that errors
// or times out leaves its field nil and is listed in RawStats.Unavailable.
// Only cancellation of the caller's context is returned as an error.
package stats

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"civicwatch/internal/integrity/metrics"
	"civicwatch/internal/integrity/models"
	id "civicwatch/pkg/domain"
	"civicwatch/pkg/requestcontext"
)

// Source names as reported in RawStats.Unavailable and metrics.
const (
	SourcePendingAI      = "pending_ai"
	SourceStaleProfiles  = "stale_profiles"
	SourceVoteAnomalies  = "vote_anomalies"
	SourceOpenComplaints = "open_complaints"
	SourceRegions        = "regions"
)

const (
	DefaultStaleAfter = 180 * 24 * time.Hour
	DefaultTimeout    = 5 * time.Second
)

// closedStatuses are complaint statuses that do not count as open.
var closedStatuses = map[string]bool{"resolved": true, "rejected": true}

// Collector queries collaborators in parallel.
type Collector struct {
	registry   Registry
	complaints Complaints
	anomalies  Anomalies
	staleAfter time.Duration
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Collector)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) {
		c.metrics = m
	}
}

// WithStaleAfter sets how long a profile may go without an update before it
// counts as stale.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

// WithTimeout bounds every collaborator query of one Collect call.
func WithTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(registry Registry, complaints Complaints, anomalies Anomalies, opts ...Option) (*Collector, error) {
	if registry == nil {
		return nil, errors.New("stats: registry is required")
	}
	if complaints == nil {
		return nil, errors.New("stats: complaints store is required")
	}
	if anomalies == nil {
		return nil, errors.New("stats: anomaly source is required")
	}
	c := &Collector{
		registry:   registry,
		complaints: complaints,
		anomalies:  anomalies,
		staleAfter: DefaultStaleAfter,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Collect gathers stats for tenant; the nil tenant is platform-wide.
func (c *Collector) Collect(ctx context.Context, tenant id.TenantID) (models.RawStats, error) {
	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	staleBefore := requestcontext.Now(ctx).UTC().Add(-c.staleAfter)

	var (
		out       models.RawStats
		bySubject map[id.SubjectID]int
		regions   []RegionCounts
		mu        sync.Mutex
		g         errgroup.Group
	)
	unavailable := func(source string, err error) {
		mu.Lock()
		out.Unavailable = append(out.Unavailable, source)
		mu.Unlock()
		if c.logger != nil {
			c.logger.WarnContext(ctx, "audit collaborator unavailable",
				"tenant_id", tenant.String(),
				"source", source,
				"error", err,
			)
		}
	}
	fetch := func(source string, fn func() error) {
		g.Go(func() error {
			start := time.Now()
			err := fn()
			c.metrics.ObserveCollectLatency(source, time.Since(start))
			if err != nil {
				unavailable(source, err)
			}
			// failures degrade to nil fields, never cancel siblings
			return nil
		})
	}

	fetch(SourcePendingAI, func() error {
		n, err := c.registry.PendingNarratives(qctx, tenant)
		if err == nil {
			out.PendingAI = &n
		}
		return err
	})
	fetch(SourceStaleProfiles, func() error {
		n, err := c.registry.StaleProfiles(qctx, tenant, staleBefore)
		if err == nil {
			out.StaleProfiles = &n
		}
		return err
	})
	fetch(SourceVoteAnomalies, func() error {
		m, err := c.anomalies.AnomaliesBySubject(qctx, tenant)
		if err != nil {
			return err
		}
		total := 0
		for _, n := range m {
			total += n
		}
		bySubject = m
		out.VoteAnomalies = &total
		return nil
	})
	fetch(SourceOpenComplaints, func() error {
		byStatus, err := c.complaints.CountByStatus(qctx, tenant)
		if err != nil {
			return err
		}
		open := 0
		for status, n := range byStatus {
			if !closedStatuses[status] {
				open += n
			}
		}
		out.OpenComplaints = &open
		return nil
	})
	fetch(SourceRegions, func() error {
		r, err := c.registry.RegionBreakdown(qctx, tenant, staleBefore)
		if err == nil {
			regions = r
		}
		return err
	})

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return models.RawStats{}, err
	}

	if regions != nil {
		rctx, rcancel := context.WithTimeout(ctx, c.timeout)
		out.Regions = c.regionStats(rctx, tenant, regions, bySubject, out.VoteAnomalies != nil)
		rcancel()
	}
	sort.Strings(out.Unavailable)
	return out, nil
}

// regionStats joins the registry breakdown with per-subject anomalies. When
// the anomaly signal or the subject-to-region lookup is missing, every region
// gets a nil anomaly count.
func (c *Collector) regionStats(ctx context.Context, tenant id.TenantID, regions []RegionCounts, bySubject map[id.SubjectID]int, anomaliesKnown bool) []models.RegionStats {
	perRegion := make(map[string]int)
	if anomaliesKnown && len(bySubject) > 0 {
		subjects := make([]id.SubjectID, 0, len(bySubject))
		for s := range bySubject {
			subjects = append(subjects, s)
		}
		located, err := c.registry.SubjectRegions(ctx, subjects)
		if err != nil {
			anomaliesKnown = false
			if c.logger != nil {
				c.logger.WarnContext(ctx, "subject region lookup failed",
					"tenant_id", tenant.String(),
					"error", err,
				)
			}
		} else {
			for s, n := range bySubject {
				if state, ok := located[s]; ok {
					perRegion[state] += n
				}
			}
		}
	}

	out := make([]models.RegionStats, 0, len(regions))
	for _, r := range regions {
		if r.State == "" || r.Subjects == 0 {
			continue
		}
		rs := models.RegionStats{
			State:         r.State,
			PendingAI:     models.IntPtr(r.PendingAI),
			StaleProfiles: models.IntPtr(r.Stale),
		}
		if anomaliesKnown {
			rs.VoteAnomalies = models.IntPtr(perRegion[r.State])
		}
		out = append(out, rs)
	}
	return out
}
