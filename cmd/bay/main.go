// Command bay runs Bay's control-plane server: scheduler, reaper,
// recovery, and HTTP front.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/shipyard/bay/internal/affinity"
	"github.com/shipyard/bay/internal/config"
	"github.com/shipyard/bay/internal/domain"
	"github.com/shipyard/bay/internal/driver/docker"
	"github.com/shipyard/bay/internal/fleetws"
	"github.com/shipyard/bay/internal/health"
	"github.com/shipyard/bay/internal/httpapi"
	"github.com/shipyard/bay/internal/logger"
	"github.com/shipyard/bay/internal/migrate"
	"github.com/shipyard/bay/internal/reaper"
	"github.com/shipyard/bay/internal/recovery"
	"github.com/shipyard/bay/internal/repository"
	"github.com/shipyard/bay/internal/repository/postgres"
	"github.com/shipyard/bay/internal/scheduler"
)

// repoStatusLookup implements affinity.ShipStatusLookup directly against
// the repository, so the Affinity Index can be constructed before the
// Scheduler exists.
type repoStatusLookup struct {
	repo repository.ShipRepository
}

func (l repoStatusLookup) IsRunning(shipID string) bool {
	ship, err := l.repo.Get(context.Background(), shipID)
	if err != nil {
		return false
	}
	return ship.Status == domain.StatusRunning
}

// reaperEvents fans Reaper expiries out to the fleet feed and metrics.
type reaperEvents struct {
	hub     *fleetws.Hub
	metrics *httpapi.Metrics
}

func (e reaperEvents) ShipExpired(shipID string) {
	e.hub.Publish(fleetws.Event{Type: "expired", ShipID: shipID, Timestamp: time.Now().UTC()})
	e.metrics.ShipReaped()
}

func main() {
	cfg := config.Load()
	log := logger.New("bay", cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("bay exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	runner, err := migrate.New(sqlDB)
	if err != nil {
		return err
	}
	if err := runner.Up(); err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := postgres.New(pool)

	drv, err := docker.New(cfg.DockerHost, cfg.DockerImage, cfg.DockerNetwork, cfg.ShipPort)
	if err != nil {
		return err
	}
	defer drv.Close()
	if err := drv.Ping(ctx); err != nil {
		log.Warn("docker daemon not reachable at startup", "error", err)
	}

	prober := health.New(cfg.ShipHealthCheckInterval, cfg.ShipHealthCheckTimeout)

	aff := affinity.New(repo, repoStatusLookup{repo})
	sched := scheduler.New(cfg.MaxShipNum, cfg.BehaviorAfterMaxShip, repo, drv, prober, aff, log)

	if err := recovery.Run(ctx, repo, drv, aff, sched, log); err != nil {
		return err
	}

	hub := fleetws.NewHub()
	hubDone := make(chan struct{})
	go hub.Run(hubDone)
	defer close(hubDone)

	metrics := httpapi.NewMetrics(cfg.MetricsNamespace)

	reap := reaper.New(repo, drv, aff, sched, reaperEvents{hub: hub, metrics: metrics}, log, cfg.ReaperTickInterval, uint64(cfg.ReaperStopRetries))
	reaperCtx, cancelReaper := context.WithCancel(ctx)
	defer cancelReaper()
	go reap.Run(reaperCtx)

	opRouter := httpapi.NewOperationRouter(repo, aff, 30*time.Second, cfg.UpstreamProxyMargin)

	var rateLimiter *httpapi.RedisRateLimiter
	if cfg.RateLimitRedisAddr != "" {
		rateLimiter = httpapi.NewRedisRateLimiter(cfg.RateLimitRedisAddr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, 100, time.Minute)
		defer rateLimiter.Close()
	}

	handler := httpapi.NewServer(httpapi.Deps{
		Repo:         repo,
		Scheduler:    sched,
		Affinity:     aff,
		Router:       opRouter,
		Driver:       drv,
		Hub:          hub,
		Metrics:      metrics,
		Logger:       log,
		AccessToken:  cfg.AccessToken,
		LogsTailSize: cfg.ShipLogsTailBytes,
		DefaultSpec: domain.Spec{
			CPUs:   &cfg.DefaultShipCPUs,
			Memory: &cfg.DefaultShipMemory,
		},
		DefaultMaxSessions: cfg.DefaultMaxSessions,
		RateLimiter:        rateLimiter,
	})

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("bay listening", "addr", cfg.Addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
