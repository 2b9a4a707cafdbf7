package lock

import (
	"context"
	"time"
)

// Locker 带 TTL 的互斥租约
//
// TryAcquire 是原子的 set-if-absent：同一 key 在 TTL 窗口内只有一个调用者
// 拿到 true，其余调用者立即得到 false。没有显式释放接口，锁到期自动失效，
// 持有者崩溃后最多经过一个 TTL 即自愈。
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
