package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"

	"civicwatch/internal/integrity/anchor"
	"civicwatch/internal/integrity/handler"
	"civicwatch/internal/integrity/latest"
	auditmetrics "civicwatch/internal/integrity/metrics"
	"civicwatch/internal/integrity/scheduler"
	"civicwatch/internal/integrity/service"
	"civicwatch/internal/integrity/snapshot"
	"civicwatch/internal/integrity/stats"
	statsstore "civicwatch/internal/integrity/stats/store"
	"civicwatch/internal/integrity/votes"
	votestore "civicwatch/internal/integrity/votes/store"
	jwttoken "civicwatch/internal/jwt_token"
	"civicwatch/internal/platform/config"
	"civicwatch/internal/platform/httpserver"
	"civicwatch/internal/platform/logger"
	httpmetrics "civicwatch/internal/platform/metrics"
	"civicwatch/internal/platform/postgres"
	redisclient "civicwatch/internal/platform/redis"
	httptransport "civicwatch/internal/transport/http"
	id "civicwatch/pkg/domain"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var latestStore latest.Store = latest.NewInMemory()
	if rc != nil {
		defer rc.Close()
		latestStore = latest.NewRedis(rc.Client, latest.WithTTL(cfg.Audit.LatestCacheTTL))
	} else {
		log.Warn("REDIS_URL not set, latest audit records are kept in process")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := auditmetrics.New(reg)

	guard, err := votes.NewGuard(votestore.NewPostgres(db),
		votes.WithLogger(log),
		votes.WithMetrics(m),
		votes.WithRateLimit(cfg.Votes.RateLimit, cfg.Votes.RateWindow),
		votes.WithBurstDetection(cfg.Votes.BurstWindow, cfg.Votes.BurstThreshold, cfg.Votes.AnomalyLookback),
	)
	if err != nil {
		return err
	}

	collector, err := stats.New(statsstore.NewPostgresRegistry(db), statsstore.NewPostgresComplaints(db), guard,
		stats.WithLogger(log),
		stats.WithMetrics(m),
		stats.WithStaleAfter(cfg.Audit.StaleAfter),
		stats.WithTimeout(cfg.Audit.CollectTimeout),
	)
	if err != nil {
		return err
	}

	engineOpts := []service.Option{service.WithLogger(log), service.WithMetrics(m)}
	var dispatcher *anchor.Dispatcher
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 && cfg.Audit.AnchorOnSnapshot {
		kc, d, err := newDispatcher(ctx, cfg, brokers, db, log, m)
		if err != nil {
			return err
		}
		defer kc.Close()
		dispatcher = d
		engineOpts = append(engineOpts, service.WithAnchorer(d))
	} else {
		log.Warn("digest anchoring disabled")
	}

	engine, err := service.New(collector, snapshot.NewPostgres(db), latestStore, engineOpts...)
	if err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	if cfg.Audit.Schedule != "" {
		tenants, err := parseTenants(cfg.AuditTenants())
		if err != nil {
			return err
		}
		sched, err = scheduler.New(engine, cfg.Audit.Schedule, tenants,
			scheduler.WithLogger(log),
			scheduler.WithRunTimeout(cfg.Audit.RunTimeout),
		)
		if err != nil {
			return err
		}
		sched.Start()
	}

	checks := map[string]httptransport.HealthCheck{"postgres": db.PingContext}
	if rc != nil {
		checks["redis"] = rc.Health
	}
	router := httptransport.NewRouter(httptransport.Deps{
		Handler:        handler.New(engine, guard, log),
		Voters:         jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience),
		AdminTokenHash: cfg.Server.AdminTokenHash,
		Metrics:        httpmetrics.NewHTTP(reg),
		Gatherer:       reg,
		Checks:         checks,
		Logger:         log,
	})
	srv := httpserver.New(cfg.Server, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting civicwatch", "addr", cfg.Server.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Error("scheduler shutdown", "error", err)
		}
	}
	if dispatcher != nil {
		// in-flight anchoring is bounded by the publish timeout
		dispatcher.Wait()
	}
	return nil
}

func newDispatcher(ctx context.Context, cfg *config.Config, brokers []string, db *sql.DB, log *slog.Logger, m *auditmetrics.Metrics) (*kgo.Client, *anchor.Dispatcher, error) {
	kc, err := anchor.NewKafkaClient(brokers)
	if err != nil {
		return nil, nil, err
	}
	if err := anchor.EnsureTopic(ctx, kc, cfg.Kafka.AnchorTopic, cfg.Kafka.AnchorPartitions, cfg.Kafka.AnchorReplication); err != nil {
		kc.Close()
		return nil, nil, err
	}
	pub, err := anchor.NewKafkaPublisher(kc, cfg.Kafka.AnchorTopic)
	if err != nil {
		kc.Close()
		return nil, nil, err
	}
	d, err := anchor.NewDispatcher(pub, anchor.NewPostgresLedger(db, anchor.DefaultClaimTTL),
		anchor.WithLogger(log),
		anchor.WithMetrics(m),
		anchor.WithPublishTimeout(cfg.Kafka.PublishTimeout),
	)
	if err != nil {
		kc.Close()
		return nil, nil, err
	}
	return kc, d, nil
}

func parseTenants(raw []string) ([]id.TenantID, error) {
	out := make([]id.TenantID, 0, len(raw))
	for _, s := range raw {
		t, err := id.ParseTenantID(s)
		if err != nil {
			return nil, fmt.Errorf("AUDIT_TENANTS: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}
