package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/pawsuite/pawsuite/internal/app"
	"github.com/pawsuite/pawsuite/internal/authz"
	"github.com/pawsuite/pawsuite/internal/docstore"
	"github.com/pawsuite/pawsuite/internal/identity"
	jobmetrics "github.com/pawsuite/pawsuite/internal/jobs"
	"github.com/pawsuite/pawsuite/internal/observability"
	"github.com/pawsuite/pawsuite/internal/platform/cache"
	"github.com/pawsuite/pawsuite/internal/platform/db"
	"github.com/pawsuite/pawsuite/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, permission cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	var provider identity.Provider
	if cfg.IdentityURL == "" {
		logger.Error("identity provider not configured, nothing to reconcile")
		os.Exit(1)
	}
	provider, err = identity.NewHTTPProvider(cfg.IdentityURL, cfg.IdentityAPIKey)
	if err != nil {
		logger.Error("identity provider init", slog.Any("error", err))
		os.Exit(1)
	}

	repo := authz.NewRepository(docstore.NewPGStore(pool))
	permCache := authz.NewPermissionCache(redisClient, cfg.PermissionCacheTTL)
	resolver := authz.NewResolver(repo, permCache, logger)
	synchronizer := authz.NewSynchronizer(provider, resolver, logger)
	synchronizer.SetPageSize(cfg.SyncPageSize)

	obs := observability.NewMetrics()
	metrics := jobmetrics.NewMetrics(obs.Registerer())
	syncJob := jobs.NewClaimsSyncJob(synchronizer, logger, metrics)

	// The worker has no API surface, but its job metrics still need a
	// scrape endpoint.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", obs.Handler())
	metricsSrv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info("metrics listening", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", slog.Any("error", err))
		}
	}()

	syncTask, err := jobs.NewClaimsSyncTask(jobs.ClaimsSyncPayload{})
	if err != nil {
		logger.Error("build claims sync task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskClaimsSync, Handler: syncJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SyncCron, Task: syncTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("sync_cron", cfg.SyncCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
