package cover

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/acgntube/coverd/database/models"
	"github.com/acgntube/coverd/lock"
	"github.com/acgntube/coverd/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// orderedCatalog 按插入顺序返回缺失封面的条目，模拟 created_at ASC
type orderedCatalog struct {
	fakeCatalog
	order []string
}

func (c *orderedCatalog) add(v *models.Video) {
	c.fakeCatalog.add(v)
	c.order = append(c.order, v.Identifier)
}

func (c *orderedCatalog) ListMissingCover(limit int) ([]models.Video, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Video
	for _, id := range c.order {
		if len(out) >= limit {
			break
		}
		if v, ok := c.videos[id]; ok && !v.HasCover() {
			out = append(out, *v)
		}
	}
	return out, nil
}

func newOrderedCatalog() *orderedCatalog {
	return &orderedCatalog{
		fakeCatalog: fakeCatalog{videos: make(map[string]*models.Video)},
	}
}

func drainQueue(t *testing.T, q *queue.MemoryQueue) []string {
	t.Helper()
	var out []string
	for {
		n, err := q.Len(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return out
		}
		id, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		out = append(out, id)
	}
}

func TestScannerEnqueuesMissingCoversOldestFirst(t *testing.T) {
	catalog := newOrderedCatalog()
	catalog.add(&models.Video{Identifier: "000001", SourceMediaURL: "http://media/1.mp4"})
	catalog.add(&models.Video{Identifier: "000002", SourceMediaURL: "http://media/2.mp4", CoverURL: "/uploads/cover/000002.webp"})
	catalog.add(&models.Video{Identifier: "000003", SourceMediaURL: "http://media/3.mp4"})

	q := queue.NewMemoryQueue(16)
	defer q.Close()

	s := NewScanner(catalog, q, lock.NewMemoryLocker(), ScannerOptions{})

	enqueued, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, enqueued)

	// 已有封面的条目不入队，其余按最旧优先
	assert.Equal(t, []string{"000001", "000003"}, drainQueue(t, q))
}

func TestScannerRespectsBatchSize(t *testing.T) {
	catalog := newOrderedCatalog()
	for i := 1; i <= 5; i++ {
		catalog.add(&models.Video{
			Identifier:     fmt.Sprintf("%06d", i),
			SourceMediaURL: fmt.Sprintf("http://media/%d.mp4", i),
		})
	}

	q := queue.NewMemoryQueue(16)
	defer q.Close()

	s := NewScanner(catalog, q, lock.NewMemoryLocker(), ScannerOptions{BatchSize: 2})

	enqueued, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, enqueued)
	assert.Equal(t, []string{"000001", "000002"}, drainQueue(t, q))
}

// TestScannerLockSuppressesConcurrentScan 锁窗口内的第二次回扫空转返回
func TestScannerLockSuppressesConcurrentScan(t *testing.T) {
	catalog := newOrderedCatalog()
	catalog.add(&models.Video{Identifier: "000001", SourceMediaURL: "http://media/1.mp4"})

	q := queue.NewMemoryQueue(16)
	defer q.Close()

	locker := lock.NewMemoryLocker()
	s := NewScanner(catalog, q, locker, ScannerOptions{LockTTL: time.Minute})

	enqueued, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, enqueued)

	// 同一窗口内再次回扫不重复入队，也不算错误
	enqueued, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, enqueued)

	n, _ := q.Len(context.Background())
	assert.Equal(t, int64(1), n)
}

// TestScannerLockExpiryAllowsNextScan 锁到期后回扫恢复
func TestScannerLockExpiryAllowsNextScan(t *testing.T) {
	catalog := newOrderedCatalog()
	catalog.add(&models.Video{Identifier: "000001", SourceMediaURL: "http://media/1.mp4"})

	q := queue.NewMemoryQueue(16)
	defer q.Close()

	s := NewScanner(catalog, q, lock.NewMemoryLocker(), ScannerOptions{LockTTL: 30 * time.Millisecond})

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	enqueued, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, enqueued)
}

// TestScannerEnqueueFailurePropagates 入队失败立刻中断并上抛
func TestScannerEnqueueFailurePropagates(t *testing.T) {
	catalog := newOrderedCatalog()
	catalog.add(&models.Video{Identifier: "000001", SourceMediaURL: "http://media/1.mp4"})
	catalog.add(&models.Video{Identifier: "000002", SourceMediaURL: "http://media/2.mp4"})
	catalog.add(&models.Video{Identifier: "000003", SourceMediaURL: "http://media/3.mp4"})

	// 容量 1，第二条入队必然失败
	q := queue.NewMemoryQueue(1)
	defer q.Close()

	s := NewScanner(catalog, q, lock.NewMemoryLocker(), ScannerOptions{})

	enqueued, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, enqueued)
}

func TestScannerEmptyCatalogNoOp(t *testing.T) {
	q := queue.NewMemoryQueue(16)
	defer q.Close()

	s := NewScanner(newOrderedCatalog(), q, lock.NewMemoryLocker(), ScannerOptions{})

	enqueued, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, enqueued)
}

func TestScannerLifecycleAndManualTrigger(t *testing.T) {
	catalog := newOrderedCatalog()
	catalog.add(&models.Video{Identifier: "000001", SourceMediaURL: "http://media/1.mp4"})

	q := queue.NewMemoryQueue(16)
	defer q.Close()

	s := NewScanner(catalog, q, lock.NewMemoryLocker(), ScannerOptions{
		Interval: time.Hour,
		LockTTL:  10 * time.Millisecond,
	})

	// 未启动时手动触发报错
	assert.Error(t, s.TriggerManualScan())

	s.Start()
	defer s.Stop()

	// 启动即执行首轮
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status().LastEnqueued == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	status := s.Status()
	assert.True(t, status.Running)
	assert.Equal(t, 1, status.LastEnqueued)
	assert.False(t, status.LastRun.IsZero())

	// 消费掉首轮结果再手动触发
	assert.Equal(t, []string{"000001"}, drainQueue(t, q))
	time.Sleep(30 * time.Millisecond) // 等首轮的锁过期

	require.NoError(t, s.TriggerManualScan())
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := q.Len(context.Background()); n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, []string{"000001"}, drainQueue(t, q))

	s.Stop()
	assert.False(t, s.Status().Running)
}
