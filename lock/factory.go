package lock

import (
	"fmt"
	"log"

	"github.com/acgntube/coverd/config"
	"github.com/go-redis/redis/v8"
)

// NewFromConfig 根据配置创建锁后端，与队列共用 broker_type
func NewFromConfig(cfg *config.Config, client *redis.Client) (Locker, error) {
	switch cfg.BrokerType {
	case "redis", "":
		if client == nil {
			return nil, fmt.Errorf("redis locker requires a redis client")
		}
		log.Println("[Lock] Using redis lock backend")
		return NewRedisLocker(client), nil
	case "memory":
		log.Println("[Lock] Using in-process memory lock backend")
		return NewMemoryLocker(), nil
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.BrokerType)
	}
}
