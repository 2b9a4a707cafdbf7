package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// DefaultKey 封面生成队列的 list key
	DefaultKey = "cover:generate:queue"

	popTimeout   = 5 * time.Second
	reconnectGap = time.Second
)

// RedisQueue Redis list 实现，LPUSH 入队 BRPOP 出队
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue 创建 Redis 队列
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

// Enqueue 入队，存储不可达时错误向上传播，不允许静默丢任务
func (q *RedisQueue) Enqueue(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("empty job id")
	}
	if err := q.client.LPush(ctx, q.key, id).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", id, err)
	}
	return nil
}

// Dequeue 阻塞出队，连接类错误内部重试，只有 ctx 取消才返回错误
func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		vals, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
		if err == nil {
			// BRPOP 返回 [key, value]
			return vals[1], nil
		}

		if errors.Is(err, redis.Nil) {
			// 超时无任务，继续等待
			continue
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		log.Printf("[Queue] dequeue error, retrying: %v", err)
		select {
		case <-time.After(reconnectGap):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Len 当前队列长度，仅用于状态上报
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close 关闭底层连接
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
