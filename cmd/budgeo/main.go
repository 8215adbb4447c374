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

	"github.com/joho/godotenv"

	"github.com/budgeo/budgeo/internal/app"
	"github.com/budgeo/budgeo/internal/audit"
	"github.com/budgeo/budgeo/internal/auth"
	"github.com/budgeo/budgeo/internal/budget"
	"github.com/budgeo/budgeo/internal/forecast"
	"github.com/budgeo/budgeo/internal/importer"
	"github.com/budgeo/budgeo/internal/ledger"
	"github.com/budgeo/budgeo/internal/observability"
	"github.com/budgeo/budgeo/internal/orders"
	"github.com/budgeo/budgeo/internal/platform/cache"
	"github.com/budgeo/budgeo/internal/platform/db"
	"github.com/budgeo/budgeo/internal/reporting"
	"github.com/budgeo/budgeo/internal/shared"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "api")

	if err := db.Migrate(cfg.PGDSN); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

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

	metrics := observability.NewMetrics()
	sessions := shared.NewSessionManager(redisClient, "budgeo_session", cfg.SessionTTL, cfg.IsProduction())
	idempotencyStore := shared.NewIdempotencyStore(pool)
	recorder := audit.NewRecorder()

	authService := auth.NewService(auth.NewRepository(pool))
	authHandler := auth.NewHandler(logger, authService, sessions)

	budgetService := budget.NewService(budget.NewRepository(pool))
	budgetHandler := budget.NewHandler(budgetService, logger)

	reportingService := reporting.NewService(reporting.NewRepository(pool), redisClient, cfg.ReportCacheTTL, logger)
	reportingHandler := reporting.NewHandler(reportingService, logger)

	ledgerService := ledger.NewService(ledger.NewRepository(pool, recorder), metrics, reportingService)
	ledgerHandler := ledger.NewHandler(ledgerService, logger)

	forecastService := forecast.NewService(forecast.NewRepository(pool, recorder))
	forecastHandler := forecast.NewHandler(forecastService, logger)

	ordersService := orders.NewService(orders.NewRepository(pool, recorder))
	ordersHandler := orders.NewHandler(ordersService, logger)

	auditService := audit.NewService(audit.NewPGRepository(pool))
	auditHandler := audit.NewHandler(auditService, logger)

	importerService := importer.NewService(ledgerService, idempotencyStore, logger)
	importerHandler := importer.NewHandler(importerService, logger)

	router := app.NewRouter(app.MiddlewareConfig{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessions,
		Metrics:        metrics,
	}, metrics, app.Handlers{
		Auth:      authHandler,
		Budget:    budgetHandler,
		Ledger:    ledgerHandler,
		Forecast:  forecastHandler,
		Orders:    ordersHandler,
		Audit:     auditHandler,
		Reporting: reportingHandler,
		Importer:  importerHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
	logger.Info("server stopped")
}
