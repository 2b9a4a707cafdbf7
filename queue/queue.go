package queue

import "context"

// Queue 待生成封面的任务队列，至少一次投递
//
// Enqueue 允许重复入队，消费端以目录当前状态为准，重复任务是无害空转。
// Dequeue 阻塞直到取到任务或 ctx 取消；每个任务只会被一个消费者取到。
type Queue interface {
	Enqueue(ctx context.Context, id string) error
	Dequeue(ctx context.Context) (string, error)
	// Len 当前积压条数，仅用于状态上报
	Len(ctx context.Context) (int64, error)
	Close() error
}
