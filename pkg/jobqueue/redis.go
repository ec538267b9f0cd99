package jobqueue

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis implements Queue on a Redis list (LPUSH) plus result keys the
// workers populate with SET EX.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Push(ctx context.Context, queue string, payload []byte) error {
	return r.client.LPush(ctx, queue, payload).Err()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *Redis) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

var _ Queue = (*Redis)(nil)
