// Command gateway runs the risk-aware enforcement engine in front of the
// demo financial API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vaultgate/internal/anomaly"
	"vaultgate/internal/decision"
	"vaultgate/internal/gateway"
	gwmetrics "vaultgate/internal/gateway/metrics"
	"vaultgate/internal/platform/config"
	"vaultgate/internal/platform/httpserver"
	"vaultgate/internal/platform/logger"
	"vaultgate/internal/platform/redis"
	"vaultgate/internal/policy"
	rlmetrics "vaultgate/internal/ratelimit/metrics"
	ratelimit "vaultgate/internal/ratelimit/service"
	"vaultgate/internal/ratelimit/store/window"
	"vaultgate/internal/risk"
	"vaultgate/internal/simulation"
	transporthttp "vaultgate/internal/transport/http"
)

const (
	shutdownTimeout = 10 * time.Second
	decisionBuffer  = 10000
)

func main() {
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

func run(ctx context.Context, log *slog.Logger) error {
	cfg := config.FromEnv()
	pol := policy.Default()

	// Limiter window state: shared in Redis when configured, otherwise
	// process-local.
	var windows ratelimit.WindowStore = window.NewInMemoryStore()
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	if redisClient != nil {
		windows = window.NewRedisStore(redisClient.Client)
		defer redisClient.Close()
		log.Info("limiter windows backed by redis")
	}

	// Decision log: durable in Postgres when configured.
	var decisions decision.Store = decision.NewInMemoryStore(decisionBuffer)
	if cfg.Postgres.DSN != "" {
		pg, err := decision.NewPostgresStore(cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return fmt.Errorf("migrate decision schema: %w", err)
		}
		defer pg.Close()
		decisions = pg
		log.Info("decision log backed by postgres")
	}

	publisher := decision.NewPublisher(decisions, log)
	defer publisher.Close()

	limiter, err := ratelimit.New(windows, pol,
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(rlmetrics.New()),
	)
	if err != nil {
		return fmt.Errorf("build rate limiter: %w", err)
	}

	gwOpts := []gateway.Option{
		gateway.WithLogger(log),
		gateway.WithMetrics(gwmetrics.New()),
	}
	if cfg.Anomaly.URL != "" {
		gwOpts = append(gwOpts, gateway.WithPredictor(
			anomaly.NewClient(cfg.Anomaly.URL, cfg.Anomaly.Timeout, anomaly.WithLogger(log)),
		))
		log.Info("anomaly scoring enabled", "url", cfg.Anomaly.URL)
	}
	gw := gateway.New(limiter, decisions, publisher, risk.NewScorer(pol), gwOpts...)

	router := transporthttp.NewRouter(transporthttp.RouterConfig{
		Gateway:   gw,
		Simulator: simulation.New(decisions, simulation.WithLogger(log)),
		Decisions: decisions,
		Disabled:  cfg.RateLimitDisabled,
		Logger:    log,
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("gateway listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
