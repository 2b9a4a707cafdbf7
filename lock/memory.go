package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker 进程内锁，用于单机部署和测试
type MemoryLocker struct {
	mu       sync.Mutex
	deadline map[string]time.Time
}

// NewMemoryLocker 创建内存锁
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		deadline: make(map[string]time.Time),
	}
}

// TryAcquire 抢锁，已过期的 key 视为未持有
func (l *MemoryLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if until, held := l.deadline[key]; held && now.Before(until) {
		return false, nil
	}
	l.deadline[key] = now.Add(ttl)
	return true, nil
}
