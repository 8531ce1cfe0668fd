package points

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/ruralpay/walletcore/internal/models"
)

// DefaultQueue is the Redis list the delivery service consumes.
const DefaultQueue = "notification_queue"

// Publisher hands a committed notification to the delivery system.
type Publisher interface {
	Publish(ctx context.Context, n models.Notification) error
}

// RedisPublisher pushes notifications onto a Redis list.
type RedisPublisher struct {
	redis *redis.Client
	queue string
}

func NewRedisPublisher(rdb *redis.Client, queue string) *RedisPublisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &RedisPublisher{redis: rdb, queue: queue}
}

func (p *RedisPublisher) Publish(ctx context.Context, n models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return p.redis.RPush(ctx, p.queue, data).Err()
}
