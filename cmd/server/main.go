// Package main provides the API server entry point for the rank tracker
// service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rank-tracker/internal/api"
	"github.com/rank-tracker/internal/config"
	"github.com/rank-tracker/internal/credit"
	"github.com/rank-tracker/internal/logging"
	"github.com/rank-tracker/internal/scheduler"
	"github.com/rank-tracker/internal/serp"
	"github.com/rank-tracker/internal/service"
	"github.com/rank-tracker/internal/storage"
	"github.com/rank-tracker/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Repositories
	classRepo := storage.NewClassRepository(postgres)
	keywordRepo := storage.NewKeywordRepository(postgres)
	jobRepo := storage.NewJobRepository(postgres)
	creditRepo := storage.NewCreditRepository(postgres)
	orderRepo := storage.NewOrderRepository(postgres)
	historyRepo := storage.NewHistoryRepository(clickhouse)
	serpCache := storage.NewSerpCache(redis, cfg.Database.Redis.SerpCacheTTL)

	// Services
	ledger := credit.NewLedger(creditRepo, cfg.Scheduler.AdminToken, logger)
	checkService := service.NewCheckService(classRepo, keywordRepo, jobRepo, logger)
	paymentService := service.NewPaymentService(orderRepo, ledger, logger)
	sched := scheduler.NewScheduler(classRepo, checkService, logger)

	serpClient := serp.NewClient(&cfg.Serp)
	processor := worker.NewProcessor(
		jobRepo,
		classRepo,
		keywordRepo,
		historyRepo,
		serpCache,
		serpClient,
		ledger,
		worker.Config{
			BatchSize:    cfg.Worker.BatchSize,
			KeywordDelay: cfg.Worker.KeywordDelay,
		},
		logger,
	)

	server := api.NewServer(
		&api.ServerConfig{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			WebhookSecret:   cfg.Payment.WebhookSecret,
		},
		checkService,
		paymentService,
		ledger,
		sched,
		processor,
		classRepo,
		keywordRepo,
		serpCache,
		historyRepo,
		logger,
	)

	// Graceful shutdown on SIGINT/SIGTERM
	done := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
		close(done)
	}()

	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("Server failed")
	}
	<-done
	logger.Info("Server stopped")
}
