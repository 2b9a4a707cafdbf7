package queue

import (
	"context"
	"fmt"
	"sync"
)

const defaultMemoryCapacity = 1024

// MemoryQueue 进程内队列，用于单机部署和测试
type MemoryQueue struct {
	ch        chan string
	closeOnce sync.Once
	done      chan struct{}
}

// NewMemoryQueue 创建内存队列，capacity <= 0 时使用默认容量
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryQueue{
		ch:   make(chan string, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue 入队，队列已满视为存储不可用，错误向上传播
func (q *MemoryQueue) Enqueue(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("empty job id")
	}
	select {
	case q.ch <- id:
		return nil
	case <-q.done:
		return fmt.Errorf("queue closed")
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("queue full, capacity %d", cap(q.ch))
	}
}

// Dequeue 阻塞出队
func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-q.done:
		return "", fmt.Errorf("queue closed")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len 当前队列长度
func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

// Close 关闭队列，唤醒所有阻塞的消费者
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	return nil
}
