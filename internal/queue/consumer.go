package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// JobHandler runs one dequeued job. A returned error sends the job to the DLQ.
type JobHandler func(ctx context.Context, job model.RunJob) error

type Consumer struct {
	client  *redis.Client
	queue   string
	dlq     string
	timeout time.Duration
	log     zerolog.Logger
}

func NewConsumer(redisClient *RedisClient, cfg config.RedisConfig) *Consumer {
	return &Consumer{
		client:  redisClient.Client(),
		queue:   cfg.RunQueue,
		dlq:     cfg.RunQueue + cfg.DLQSuffix,
		timeout: 5 * time.Second,
		log:     logger.Component("queue"),
	}
}

// Consume pops jobs one at a time until ctx is cancelled. Jobs are handled
// serially, so a consumer never runs two batch jobs at once.
func (c *Consumer) Consume(ctx context.Context, handler JobHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := c.ConsumeOne(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Str("queue", c.queue).Msg("Failed to consume message")
		}
	}
}

// ConsumeOne waits up to the poll timeout for a job and handles it. It reports
// whether a message was taken off the queue.
func (c *Consumer) ConsumeOne(ctx context.Context, handler JobHandler) (bool, error) {
	result, err := c.client.BRPop(ctx, c.timeout, c.queue).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	if len(result) < 2 {
		return false, nil
	}

	message := result[1]
	var job model.RunJob
	if err := json.Unmarshal([]byte(message), &job); err != nil {
		c.log.Error().Err(err).Msg("Malformed job message")
		return true, c.deadLetter(ctx, message)
	}

	if err := handler(ctx, job); err != nil {
		c.log.Error().Err(err).Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("Failed to process job")
		return true, c.deadLetter(ctx, message)
	}
	return true, nil
}

func (c *Consumer) deadLetter(ctx context.Context, message string) error {
	if err := c.client.LPush(ctx, c.dlq, message).Err(); err != nil {
		return fmt.Errorf("failed to move message to DLQ %s: %w", c.dlq, err)
	}
	return nil
}
