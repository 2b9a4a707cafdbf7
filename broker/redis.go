package broker

import (
	"context"
	"time"

	"github.com/acgntube/coverd/config"
	"github.com/go-redis/redis/v8"
)

// NewRedisClient 创建共享 Redis 客户端，队列与锁复用同一连接池
func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}

	return client, nil
}
