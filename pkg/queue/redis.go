package queue

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue 基于 LPUSH / BRPOPLPUSH / LREM 的可靠队列
type RedisQueue struct {
	rdb           *redis.Client
	pendingKey    string
	processingKey string
}

func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	return &RedisQueue{
		rdb:           rdb,
		pendingKey:    key,
		processingKey: key + ":processing",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, payload string) error {
	return q.rdb.LPush(ctx, q.pendingKey, payload).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Message, error) {
	val, err := q.rdb.BRPopLPush(ctx, q.pendingKey, q.processingKey, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return &Message{Payload: val}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	return q.rdb.LRem(ctx, q.processingKey, 1, msg.Payload).Err()
}

func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.RPopLPush(ctx, q.processingKey, q.pendingKey).Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
