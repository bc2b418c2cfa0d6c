package queue

import (
	"context"
	"encoding/json"

	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/model"

	"github.com/go-redis/redis/v8"
)

type Producer struct {
	client *redis.Client
	queue  string
}

func NewProducer(redisClient *RedisClient, cfg config.RedisConfig) *Producer {
	return &Producer{
		client: redisClient.Client(),
		queue:  cfg.RunQueue,
	}
}

func (p *Producer) Enqueue(ctx context.Context, job model.RunJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.client.LPush(ctx, p.queue, data).Err()
}

// Pending reports how many jobs wait in the run queue.
func (p *Producer) Pending(ctx context.Context) (int64, error) {
	return p.client.LLen(ctx, p.queue).Result()
}
