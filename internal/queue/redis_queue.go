package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is a named FIFO of opaque payloads.
type Queue interface {
	Push(ctx context.Context, name string, payload []byte) error
	// Pop blocks up to timeout and returns nil without error when nothing arrived.
	Pop(ctx context.Context, name string, timeout time.Duration) ([]byte, error)
}

// RedisQueue implements Queue on Redis lists (LPUSH producers, BRPOP consumers).
type RedisQueue struct {
	client redis.UniversalClient
}

// NewRedisQueue wraps client.
func NewRedisQueue(client redis.UniversalClient) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Push(ctx context.Context, name string, payload []byte) error {
	if err := q.client.LPush(ctx, name, payload).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", name, err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, timeout, name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop from %s: %w", name, err)
	}
	// BRPOP answers [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("pop from %s: unexpected reply of %d elements", name, len(res))
	}
	return []byte(res[1]), nil
}
