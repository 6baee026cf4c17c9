package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lattice-saas/lattice/internal/app"
	"github.com/lattice-saas/lattice/internal/audit"
	"github.com/lattice-saas/lattice/internal/authz"
	"github.com/lattice-saas/lattice/internal/health"
	"github.com/lattice-saas/lattice/internal/identity"
	"github.com/lattice-saas/lattice/internal/observability"
	"github.com/lattice-saas/lattice/internal/platform/cache"
	"github.com/lattice-saas/lattice/internal/platform/db"
	"github.com/lattice-saas/lattice/internal/shared"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
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

	sessionManager := shared.NewSessionManager(redisClient, "lattice_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo, logger)

	identityRepo := identity.NewRepository(pool)
	identityService := identity.NewService(identityRepo, auditService, logger)

	catalogRepo := authz.NewCatalogRepository(pool)
	catalog := authz.NewCatalog(catalogRepo)

	authzRepo := authz.NewRepository(pool)
	evaluator := authz.NewEvaluator(authzRepo, logger, metrics)
	authzService := authz.NewService(authzRepo, catalog, auditService, logger)

	gateway := authz.Gateway{Resolver: identityService, Checker: evaluator, Logger: logger}

	healthService := health.NewService(pool, redisClient, cfg.HealthProbeInterval)

	identityHandler := identity.NewHandler(logger, identityService, sessionManager, csrfManager, gateway)
	authzHandler := authz.NewHandler(logger, authzService, catalog, evaluator, identityService, gateway)
	auditHandler := audit.NewHandler(logger, auditService, gateway)
	healthHandler := health.NewHandler(healthService, gateway)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		CSRFManager:     csrfManager,
		Gateway:         gateway,
		IdentityHandler: identityHandler,
		AuthzHandler:    authzHandler,
		AuditHandler:    auditHandler,
		HealthHandler:   healthHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
