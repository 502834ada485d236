// Package main provides the scheduler entry point. It evaluates class
// schedules once per tick and enqueues checks for the eligible ones.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rank-tracker/internal/config"
	"github.com/rank-tracker/internal/logging"
	"github.com/rank-tracker/internal/scheduler"
	"github.com/rank-tracker/internal/service"
	"github.com/rank-tracker/internal/storage"
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
	logger := logging.GetGlobalLogger().WithField("component", "scheduler")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	classRepo := storage.NewClassRepository(postgres)
	keywordRepo := storage.NewKeywordRepository(postgres)
	jobRepo := storage.NewJobRepository(postgres)

	checkService := service.NewCheckService(classRepo, keywordRepo, jobRepo, logger)
	sched := scheduler.NewScheduler(classRepo, checkService, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
	}()

	logger.WithField("tickInterval", cfg.Scheduler.TickInterval.String()).Info("Scheduler started")

	ticker := time.NewTicker(cfg.Scheduler.TickInterval)
	defer ticker.Stop()

	runOnce(ctx, sched, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			runOnce(ctx, sched, logger)
		}
	}
}

func runOnce(ctx context.Context, sched *scheduler.Scheduler, logger *logging.Logger) {
	result, err := sched.Run(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.WithError(err).Error("Scheduler run failed")
		}
		return
	}

	logger.WithFields(map[string]interface{}{
		"checked":  result.CheckedCount,
		"enqueued": result.EnqueuedCount,
		"skipped":  result.SkippedCount,
	}).Info("Scheduler run completed")
}
