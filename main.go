package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"identityforge/config"
	"identityforge/handlers"
	"identityforge/services"
	"identityforge/store"
	"identityforge/workflows"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		zap.NewExample().Fatal("Invalid configuration", zap.Error(err))
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("Failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL for app data
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	pg := store.NewPostgresStore(db)
	if err := pg.Ping(ctx); err != nil {
		return err
	}
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("Connected to PostgreSQL database")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.LLM.APIKey == "" {
		logger.Warn("OPENROUTER_API_KEY is not set; coach requests will fail until it is configured")
	}
	coach := services.NewOpenRouterService(cfg.LLM, logger, services.NewMetrics(registry))

	// Initialize workflows
	chatWorkflows := workflows.NewChatWorkflows(pg, coach, logger)

	// Initialize DBOS context for durable workflows
	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL: cfg.DatabaseURL,
		AppName:     "identityforge",
	})
	if err != nil {
		return err
	}

	// Register workflows with DBOS (MUST be before Launch)
	chatWorkflows.Register(dbosCtx)

	// Launch DBOS (starts workflow recovery)
	if err := dbos.Launch(dbosCtx); err != nil {
		return err
	}
	defer dbos.Shutdown(dbosCtx, 5*time.Second)
	logger.Info("DBOS initialized - durable workflows enabled")

	limiter := handlers.NewUserRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go limiter.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := handlers.Router{
		Chat:     handlers.NewChatHandler(pg, workflows.NewRunner(dbosCtx, chatWorkflows), logger),
		Daily:    handlers.NewDailyHandler(pg, coach, logger),
		Users:    pg,
		Limiter:  limiter,
		Health:   pg,
		Gatherer: registry,
		Logger:   logger,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Port), zap.String("model", coach.Model()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}
