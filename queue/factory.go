package queue

import (
	"fmt"
	"log"

	"github.com/acgntube/coverd/config"
	"github.com/go-redis/redis/v8"
)

// NewFromConfig 根据配置创建队列后端
// redis 后端要求传入已建连的 client，memory 后端忽略 client
func NewFromConfig(cfg *config.Config, client *redis.Client) (Queue, error) {
	switch cfg.BrokerType {
	case "redis", "":
		if client == nil {
			return nil, fmt.Errorf("redis queue requires a redis client")
		}
		log.Println("[Queue] Using redis queue backend")
		return NewRedisQueue(client, DefaultKey), nil
	case "memory":
		log.Println("[Queue] Using in-process memory queue backend")
		return NewMemoryQueue(0), nil
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.BrokerType)
	}
}
