package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/queue"
	"sis-grade-sync/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format, "scheduler")
	log := logger.Get()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid SIS timezone")
	}

	jobs, err := worker.NightlyJobs(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid scheduler job list")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Redis client
	redisClient, err := queue.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	scheduler, err := worker.NewScheduler(queue.NewProducer(redisClient, cfg.Redis), jobs, cfg.Workers.Scheduler, loc)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid scheduler config")
	}

	log.Info().Str("run_at", cfg.Workers.Scheduler.RunAt).Str("timezone", loc.String()).Msg("Starting scheduler")

	if err := scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Scheduler stopped")
		os.Exit(1)
	}
	log.Info().Msg("Scheduler exited")
}
