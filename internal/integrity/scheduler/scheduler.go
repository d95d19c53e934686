// Package scheduler triggers snapshotting audit runs on a cron schedule. It
// belongs to the host process; the engine itself owns no background work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"civicwatch/internal/integrity/service"
	id "civicwatch/pkg/domain"
)

// DefaultRunTimeout bounds one tenant's run.
const DefaultRunTimeout = 2 * time.Minute

// Runner computes an audit; *service.Engine satisfies it.
type Runner interface {
	ComputeAudit(ctx context.Context, tenant id.TenantID, snapshot bool) (service.Result, error)
}

type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	tenants []id.TenantID
	timeout time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New schedules runs for tenants on spec, a five-field cron expression or a
// descriptor such as "@hourly". No tenants means one platform-wide run.
func New(runner Runner, spec string, tenants []id.TenantID, opts ...Option) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler: runner is required")
	}
	if len(tenants) == 0 {
		tenants = []id.TenantID{{}}
	}
	s := &Scheduler{
		runner:  runner,
		tenants: tenants,
		timeout: DefaultRunTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{s.logger}), cron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.ctx) }); err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("audit scheduler started", "tenants", len(s.tenants))
}

// Stop cancels any run in progress and waits for it to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs a snapshotting audit for every tenant in turn. A failing
// tenant does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) {
	for _, tenant := range s.tenants {
		if ctx.Err() != nil {
			return
		}
		s.run(ctx, tenant)
	}
}

func (s *Scheduler) run(ctx context.Context, tenant id.TenantID) {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.runner.ComputeAudit(rctx, tenant, true)
	if err != nil {
		s.logger.WarnContext(ctx, "scheduled audit aborted", "tenant_id", tenant.String(), "error", err)
		return
	}
	s.logger.InfoContext(ctx, "scheduled audit finished",
		"tenant_id", tenant.String(),
		"health_score", res.Report.HealthScore,
		"conditions", len(res.Conditions),
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
