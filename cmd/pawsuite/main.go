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
	"github.com/pawsuite/pawsuite/internal/observability"
	"github.com/pawsuite/pawsuite/internal/platform/cache"
	"github.com/pawsuite/pawsuite/internal/platform/db"
	"github.com/pawsuite/pawsuite/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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

	store, cleanup := buildStore(ctx, cfg, logger)
	defer cleanup()

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

	provider := buildProvider(cfg, logger)

	repo := authz.NewRepository(store)
	permCache := authz.NewPermissionCache(redisClient, cfg.PermissionCacheTTL)
	resolver := authz.NewResolver(repo, permCache, logger)
	service := authz.NewService(repo, provider, resolver, logger)
	synchronizer := authz.NewSynchronizer(provider, resolver, logger)
	synchronizer.SetPageSize(cfg.SyncPageSize)
	seeder := authz.NewSeeder(repo, provider, service, logger, authz.SeederConfig{
		MaxAttempts:    cfg.SeedMaxAttempts,
		RetryDelay:     cfg.SeedRetryDelay,
		ApprovedDomain: cfg.AdminEmailDomain,
		Development:    cfg.IsDevelopment(),
	})

	// The application cannot serve authorization decisions without a
	// known-good role catalog.
	if err := seeder.EnsureSystemRoles(ctx); err != nil {
		if cfg.IsProduction() {
			logger.Error("seed system roles", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("seed system roles failed, continuing with catalog defaults", slog.Any("error", err))
	}
	if err := seeder.SetupAdministrator(ctx, cfg.AdminEmail); err != nil {
		if cfg.IsProduction() {
			logger.Error("setup administrator", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("setup administrator failed", slog.Any("error", err))
	}

	// With redis up, bulk sweeps are handed to the worker queue; without it
	// they run inline on the request.
	var scheduler authz.SyncScheduler
	if redisClient != nil {
		queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := queue.Close(); err != nil {
				logger.Warn("queue close", slog.Any("error", err))
			}
		}()
		scheduler = queue
	}

	handler := authz.NewHandler(logger, service, resolver, synchronizer, scheduler, authz.Middleware{
		Resolver: resolver,
		Logger:   logger,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		Metrics:      observability.NewMetrics(),
		AuthzHandler: handler,
	})

	srv := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.AppAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// buildStore connects the PostgreSQL document store, falling back to memory
// in development so local work is not blocked by a missing database.
func buildStore(ctx context.Context, cfg *app.Config, logger *slog.Logger) (docstore.Store, func()) {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		if cfg.IsProduction() {
			logger.Error("connect database", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("database unavailable, using in-memory store", slog.Any("error", err))
		return docstore.NewMemStore(), func() {}
	}
	pg := docstore.NewPGStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		if cfg.IsProduction() {
			logger.Error("ensure schema", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("schema setup failed, using in-memory store", slog.Any("error", err))
		pool.Close()
		return docstore.NewMemStore(), func() {}
	}
	return pg, pool.Close
}

// buildProvider selects the hosted identity service, or the in-process
// development provider when no IDENTITY_URL is configured.
func buildProvider(cfg *app.Config, logger *slog.Logger) identity.Provider {
	if cfg.IdentityURL == "" {
		if cfg.IsProduction() {
			logger.Error("identity provider not configured", slog.Any("error", identity.ErrCredentialsMissing))
			os.Exit(1)
		}
		logger.Warn("IDENTITY_URL not set, using in-process identity provider")
		return identity.NewLocalProvider()
	}
	provider, err := identity.NewHTTPProvider(cfg.IdentityURL, cfg.IdentityAPIKey)
	if err != nil {
		logger.Error("identity provider init", slog.Any("error", err))
		os.Exit(1)
	}
	return provider
}
