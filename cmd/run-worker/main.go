package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sis-grade-sync/internal/app"
	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/queue"
	"sis-grade-sync/internal/worker"
)

// runLockTTL bounds how long a crashed worker can block the next run.
const runLockTTL = 2 * time.Hour

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format, "run-worker")
	log := logger.Get()

	log.Info().Str("version", cfg.App.Version).Msg("Starting run worker")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database, repositories and services
	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise application")
	}
	defer application.Close()

	if err := application.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	// Initialize Redis client
	redisClient, err := queue.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Create run worker
	consumer := queue.NewConsumer(redisClient, cfg.Redis)
	lock := queue.NewRunLock(redisClient, cfg.Redis.RunQueue+":lock", runLockTTL)
	runWorker := worker.NewRunWorker(consumer, application.Runner, lock)

	// Start worker
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := runWorker.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Run worker failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-done:
	}

	log.Info().Msg("Shutting down run worker...")
	cancel()
	<-done

	log.Info().Msg("Run worker exited")
}
