// Package main provides the queue worker entry point. It repeatedly invokes
// the single-batch processor, sleeping between invocations when the queue is
// idle.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rank-tracker/internal/config"
	"github.com/rank-tracker/internal/credit"
	"github.com/rank-tracker/internal/logging"
	"github.com/rank-tracker/internal/serp"
	"github.com/rank-tracker/internal/storage"
	"github.com/rank-tracker/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger().WithField("component", "worker")

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

	classRepo := storage.NewClassRepository(postgres)
	keywordRepo := storage.NewKeywordRepository(postgres)
	jobRepo := storage.NewJobRepository(postgres)
	creditRepo := storage.NewCreditRepository(postgres)
	historyRepo := storage.NewHistoryRepository(clickhouse)
	serpCache := storage.NewSerpCache(redis, cfg.Database.Redis.SerpCacheTTL)

	ledger := credit.NewLedger(creditRepo, cfg.Scheduler.AdminToken, logger)
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

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
	}()

	logger.WithField("pollInterval", cfg.Worker.PollInterval.String()).Info("Worker started")

	for {
		result, err := processor.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.WithError(err).Error("Processor invocation failed")
		}

		// Re-invoke immediately while a job is in flight; poll when idle.
		delay := time.Duration(0)
		if err != nil || result.Idle {
			delay = cfg.Worker.PollInterval
		}

		select {
		case <-ctx.Done():
			logger.Info("Worker stopped")
			return
		case <-time.After(delay):
		}
	}

	logger.Info("Worker stopped")
}
