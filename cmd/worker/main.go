package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/lattice-saas/lattice/internal/app"
	"github.com/lattice-saas/lattice/internal/audit"
	"github.com/lattice-saas/lattice/internal/health"
	"github.com/lattice-saas/lattice/internal/identity"
	jobmetrics "github.com/lattice-saas/lattice/internal/jobs"
	"github.com/lattice-saas/lattice/internal/platform/cache"
	"github.com/lattice-saas/lattice/internal/platform/db"
	"github.com/lattice-saas/lattice/jobs"
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo, logger)

	identityRepo := identity.NewRepository(pool)
	identityService := identity.NewService(identityRepo, auditService, logger)

	healthService := health.NewService(pool, redisClient, cfg.HealthProbeInterval)

	trimTask, err := jobs.NewAuditTrimTask(jobs.AuditTrimPayload{
		RetentionHours: int(cfg.AuditRetention.Hours()),
	})
	if err != nil {
		logger.Error("build audit trim task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Tasks: jobs.Tasks{
			Identity: identityService,
			Audit:    auditService,
			Health:   healthService,
			Logger:   logger,
			Metrics:  jobmetrics.NewMetrics(nil),
		},
		Cron: []jobs.CronRegistration{
			{Spec: "20 * * * *", Task: jobs.NewSessionPurgeTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "40 3 * * *", Task: trimTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/5 * * * *", Task: jobs.NewHealthRefreshTask()},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
