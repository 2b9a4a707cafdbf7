package cover

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acgntube/coverd/database/models"
	"github.com/acgntube/coverd/lock"
	"github.com/acgntube/coverd/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeCatalog 内存目录，按标识符索引
type fakeCatalog struct {
	mu     sync.Mutex
	videos map[string]*models.Video

	updateErr error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{videos: make(map[string]*models.Video)}
}

func (c *fakeCatalog) add(v *models.Video) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videos[v.Identifier] = v
}

func (c *fakeCatalog) GetByIdentifier(identifier string) (*models.Video, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.videos[identifier]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *v
	return &copied, nil
}

func (c *fakeCatalog) UpdateCoverURL(identifier string, coverURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return c.updateErr
	}
	v, ok := c.videos[identifier]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	v.CoverURL = coverURL
	return nil
}

func (c *fakeCatalog) ListMissingCover(limit int) ([]models.Video, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Video
	for _, v := range c.videos {
		if !v.HasCover() && len(out) < limit {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (c *fakeCatalog) coverURL(identifier string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.videos[identifier]; ok {
		return v.CoverURL
	}
	return ""
}

// fakeGenerator 按格式配置成败，记录调用
type fakeGenerator struct {
	mu       sync.Mutex
	failFor  map[string]bool
	panicFor map[string]bool
	calls    []string
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		failFor:  make(map[string]bool),
		panicFor: make(map[string]bool),
	}
}

func (g *fakeGenerator) GenerateWithRetry(ctx context.Context, sourceURL, destPath, format string) error {
	g.mu.Lock()
	g.calls = append(g.calls, destPath)
	fail := g.failFor[format]
	doPanic := g.panicFor[format]
	g.mu.Unlock()

	if doPanic {
		panic("generator blew up")
	}
	if fail {
		return fmt.Errorf("all attempts failed for %s", format)
	}
	return nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGenerator) callList() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// waitForStats 轮询等待统计达到预期
func waitForStats(t *testing.T, w *Worker, cond func(WorkerStats) bool) WorkerStats {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats := w.Stats()
		if cond(stats) {
			return stats
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("stats condition not met in time, last: %+v", w.Stats())
	return WorkerStats{}
}

func newTestWorker(catalog Catalog, gen CoverGenerator, opts WorkerOptions) (*Worker, *queue.MemoryQueue) {
	q := queue.NewMemoryQueue(64)
	w := NewWorker(q, lock.NewMemoryLocker(), catalog, gen, opts)
	return w, q
}

func TestWorkerGeneratesCoverAndUpdatesCatalog(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add(&models.Video{
		Identifier:     "000123",
		SourceMediaURL: "http://media/000123.mp4",
	})
	gen := newFakeGenerator()

	w, q := newTestWorker(catalog, gen, WorkerOptions{Formats: []string{FormatWebP, FormatJPEG}})
	w.Start()
	defer w.Stop()

	require.NoError(t, q.Enqueue(context.Background(), "000123"))

	stats := waitForStats(t, w, func(s WorkerStats) bool { return s.Succeeded == 1 })
	assert.Equal(t, uint64(1), stats.Dequeued)
	assert.Equal(t, uint64(0), stats.Failed)

	// 首格式成功即停，目录回写公开路径
	assert.Equal(t, "/uploads/cover/000123.webp", catalog.coverURL("000123"))
	assert.Equal(t, 1, gen.callCount())
}

// TestWorkerFallsBackToSecondFormat 首格式耗尽后退回下一个格式
func TestWorkerFallsBackToSecondFormat(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add(&models.Video{
		Identifier:     "000123",
		SourceMediaURL: "http://media/000123.mp4",
	})
	gen := newFakeGenerator()
	gen.failFor[FormatWebP] = true

	w, q := newTestWorker(catalog, gen, WorkerOptions{Formats: []string{FormatWebP, FormatJPEG}})
	w.Start()
	defer w.Stop()

	require.NoError(t, q.Enqueue(context.Background(), "000123"))

	waitForStats(t, w, func(s WorkerStats) bool { return s.Succeeded == 1 })

	assert.Equal(t, "/uploads/cover/000123.jpg", catalog.coverURL("000123"))
	calls := gen.callList()
	require.Len(t, calls, 2)
	assert.Equal(t, "cover/000123.webp", calls[0])
	assert.Equal(t, "cover/000123.jpg", calls[1])
}

// TestWorkerSkipsMissingCatalogEntry 条目不存在按空转处理，不算失败
func TestWorkerSkipsMissingCatalogEntry(t *testing.T) {
	gen := newFakeGenerator()
	w, q := newTestWorker(newFakeCatalog(), gen, WorkerOptions{})
	w.Start()
	defer w.Stop()

	require.NoError(t, q.Enqueue(context.Background(), "ghost"))

	stats := waitForStats(t, w, func(s WorkerStats) bool { return s.Skipped == 1 })
	assert.Equal(t, uint64(0), stats.Failed)
	assert.Equal(t, 0, gen.callCount())
}

func TestWorkerSkipsExistingCover(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add(&models.Video{
		Identifier:     "000123",
		SourceMediaURL: "http://media/000123.mp4",
		CoverURL:       "/uploads/cover/000123.webp",
	})
	gen := newFakeGenerator()

	w, q := newTestWorker(catalog, gen, WorkerOptions{})
	w.Start()
	defer w.Stop()

	require.NoError(t, q.Enqueue(context.Background(), "000123"))

	waitForStats(t, w, func(s WorkerStats) bool { return s.Skipped == 1 })
	assert.Equal(t, 0, gen.callCount())
}

func TestWorkerSkipsEmptySource(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add(&models.Video{Identifier: "000123"})
	gen := newFakeGenerator()

	w, q := newTestWorker(catalog, gen, WorkerOptions{})
	w.Start()
	defer w.Stop()

	require.NoError(t, q.Enqueue(context.Background(), "000123"))

	stats := waitForStats(t, w, func(s WorkerStats) bool { return s.Skipped == 1 })
	assert.Equal(t, uint64(0), stats.Failed)
	assert.Equal(t, 0, gen.callCount())
}

// TestWorkerDropsWhenAllFormatsFail 全格式失败的任务直接丢弃，不回队列
func TestWorkerDropsWhenAllFormatsFail(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add(&models.Video{
		Identifier:     "000123",
		SourceMediaURL: "http://media/000123.mp4",
	})
	gen := newFakeGenerator()
	gen.failFor[FormatWebP] = true
	gen.failFor[FormatJPEG] = true

	w, q := newTestWorker(catalog, gen, WorkerOptions{Formats: []string{FormatWebP, FormatJPEG}})
	w.Start()
	defer w.Stop()

	require.NoError(t, q.Enqueue(context.Background(), "000123"))

	stats := waitForStats(t, w, func(s WorkerStats) bool { return s.Failed == 1 })
	assert.Equal(t, uint64(0), stats.Succeeded)
	assert.Equal(t, 2, gen.callCount())

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	assert.Equal(t, "", catalog.coverURL("000123"))
}

// TestWorkerDuplicateJobsAreNoOps 同一条目被重复入队时只生成一次
func TestWorkerDuplicateJobsAreNoOps(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add(&models.Video{
		Identifier:     "000123",
		SourceMediaURL: "http://media/000123.mp4",
	})
	gen := newFakeGenerator()

	w, q := newTestWorker(catalog, gen, WorkerOptions{Formats: []string{FormatJPEG}})
	w.Start()
	defer w.Stop()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "000123"))
	require.NoError(t, q.Enqueue(ctx, "000123"))
	require.NoError(t, q.Enqueue(ctx, "000123"))

	stats := waitForStats(t, w, func(s WorkerStats) bool { return s.Dequeued == 3 && s.Succeeded+s.Skipped == 3 })
	assert.Equal(t, uint64(1), stats.Succeeded)
	assert.Equal(t, uint64(2), stats.Skipped)
	assert.Equal(t, 1, gen.callCount())
	assert.Equal(t, "/uploads/cover/000123.jpg", catalog.coverURL("000123"))
}

// TestWorkerSurvivesPanic 单任务 panic 不能拖垮消费循环
func TestWorkerSurvivesPanic(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add(&models.Video{
		Identifier:     "bad",
		SourceMediaURL: "http://media/bad.mp4",
	})
	catalog.add(&models.Video{
		Identifier:     "good",
		SourceMediaURL: "http://media/good.mp4",
	})
	gen := newFakeGenerator()
	gen.panicFor[FormatWebP] = true

	w, q := newTestWorker(catalog, gen, WorkerOptions{Formats: []string{FormatWebP}})
	w.Start()
	defer w.Stop()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "bad"))

	waitForStats(t, w, func(s WorkerStats) bool { return s.Failed == 1 })

	// panic 之后继续消费
	gen.mu.Lock()
	gen.panicFor[FormatWebP] = false
	gen.mu.Unlock()

	require.NoError(t, q.Enqueue(ctx, "good"))
	waitForStats(t, w, func(s WorkerStats) bool { return s.Succeeded == 1 })
	assert.Equal(t, "/uploads/cover/good.webp", catalog.coverURL("good"))
}

func TestWorkerCatalogUpdateFailureCountsAsFailed(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add(&models.Video{
		Identifier:     "000123",
		SourceMediaURL: "http://media/000123.mp4",
	})
	catalog.updateErr = fmt.Errorf("database is down")
	gen := newFakeGenerator()

	w, q := newTestWorker(catalog, gen, WorkerOptions{Formats: []string{FormatJPEG}})
	w.Start()
	defer w.Stop()

	require.NoError(t, q.Enqueue(context.Background(), "000123"))

	stats := waitForStats(t, w, func(s WorkerStats) bool { return s.Failed == 1 })
	assert.Equal(t, uint64(0), stats.Succeeded)
}

// TestWorkerEndToEndFormatFallback 真实生成器（打桩媒体工具）走完整链路：
// webp 在两个取帧点都失败，jpg 在 0.5 处成功
func TestWorkerEndToEndFormatFallback(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add(&models.Video{
		Identifier:     "000123",
		SourceMediaURL: "https://example/video.mp4",
	})

	store := newFakeStorage()
	g, err := NewGenerator(store, GeneratorOptions{
		SamplePoints: []float64{0.1, 0.5},
		MaxRetries:   1,
	})
	require.NoError(t, err)

	g.probe = func(ctx context.Context, sourceURL string) (float64, error) {
		return 100, nil
	}
	g.extract = func(ctx context.Context, sourceURL string, offsetSec float64) ([]byte, error) {
		return []byte(fmt.Sprintf("frame@%.0f", offsetSec)), nil
	}
	g.encode = func(frame []byte, width int, format string) ([]byte, error) {
		if format == FormatWebP {
			return nil, fmt.Errorf("webp encoder rejected frame")
		}
		if string(frame) != "frame@50" {
			return nil, fmt.Errorf("bad frame %q", frame)
		}
		return []byte("jpg bytes"), nil
	}

	w, q := newTestWorker(catalog, g, WorkerOptions{Formats: []string{FormatWebP, FormatJPEG}})
	w.Start()
	defer w.Stop()

	require.NoError(t, q.Enqueue(context.Background(), "000123"))

	waitForStats(t, w, func(s WorkerStats) bool { return s.Succeeded == 1 })

	assert.Equal(t, "/uploads/cover/000123.jpg", catalog.coverURL("000123"))
	data, ok := store.get("cover/000123.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte("jpg bytes"), data)

	// webp 不落盘
	_, ok = store.get("cover/000123.webp")
	assert.False(t, ok)
}

func TestWorkerStartStopIdempotent(t *testing.T) {
	w, _ := newTestWorker(newFakeCatalog(), newFakeGenerator(), WorkerOptions{Count: 2})

	w.Start()
	w.Start() // 重复启动为空操作
	w.Stop()
	w.Stop() // 重复停止不应 panic
}

func TestWorkerDefaultOptions(t *testing.T) {
	w, _ := newTestWorker(newFakeCatalog(), newFakeGenerator(), WorkerOptions{})

	assert.Equal(t, []string{FormatWebP, FormatJPEG}, w.opts.Formats)
	assert.True(t, strings.HasPrefix(w.opts.PublicPrefix, "/"))
	assert.Equal(t, 1, w.opts.Count)
	assert.Greater(t, w.opts.LeaseTTL, time.Duration(0))
}
