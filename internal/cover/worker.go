package cover

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acgntube/coverd/database/models"
	"github.com/acgntube/coverd/lock"
	"github.com/acgntube/coverd/queue"
	"github.com/acgntube/coverd/utils"
	"gorm.io/gorm"
)

const (
	// BackfillLockKey 回扫互斥锁 key
	BackfillLockKey = "cover:backfill:lock"

	// leaseKeyPrefix 单条目生成租约前缀，多 worker 部署下防止同条目并发生成
	leaseKeyPrefix = "cover:lease:"

	// dequeueFailureDelay 出队失败后的退避
	dequeueFailureDelay = 3 * time.Second
)

// Catalog 封面流水线消费的目录接口
type Catalog interface {
	GetByIdentifier(identifier string) (*models.Video, error)
	UpdateCoverURL(identifier string, coverURL string) error
	ListMissingCover(limit int) ([]models.Video, error)
}

// CoverGenerator 生成器接口，worker 只依赖带重试的入口
type CoverGenerator interface {
	GenerateWithRetry(ctx context.Context, sourceURL, destPath, format string) error
}

// WorkerOptions Cover Worker 配置
type WorkerOptions struct {
	// Formats 候选输出格式，按序尝试
	Formats []string
	// PublicPrefix 封面对外路径前缀，如 "/uploads/cover"
	PublicPrefix string
	// LeaseTTL 单条目生成租约时长
	LeaseTTL time.Duration
	// Count 消费者协程数量
	Count int
}

// WorkerStats 运行统计，供状态接口上报
type WorkerStats struct {
	Dequeued  uint64 `json:"dequeued"`
	Succeeded uint64 `json:"succeeded"`
	Skipped   uint64 `json:"skipped"`
	Failed    uint64 `json:"failed"`
}

// Worker 封面生成消费者
// 任务只携带条目标识符，当前状态一律以目录为准，重复任务自然退化为空转。
type Worker struct {
	queue   queue.Queue
	locker  lock.Locker
	catalog Catalog
	gen     CoverGenerator
	opts    WorkerOptions

	dequeued  uint64
	succeeded uint64
	skipped   uint64
	failed    uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewWorker 创建 Cover Worker
func NewWorker(q queue.Queue, locker lock.Locker, catalog Catalog, gen CoverGenerator, opts WorkerOptions) *Worker {
	if len(opts.Formats) == 0 {
		opts.Formats = []string{FormatWebP, FormatJPEG}
	}
	if opts.PublicPrefix == "" {
		opts.PublicPrefix = "/uploads/cover"
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 2 * time.Minute
	}
	if opts.Count <= 0 {
		opts.Count = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		queue:   q,
		locker:  locker,
		catalog: catalog,
		gen:     gen,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start 启动消费循环，重复调用为空操作
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return
	}
	w.started = true

	for i := 0; i < w.opts.Count; i++ {
		w.wg.Add(1)
		id := i
		utils.SafeGo(fmt.Sprintf("CoverWorker-%d", id), func() {
			defer w.wg.Done()
			w.runLoop(id)
		})
	}
	log.Printf("[CoverWorker] Started %d consumer(s), formats: %v", w.opts.Count, w.opts.Formats)
}

// Stop 停止消费循环并等待在途任务结束
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	log.Println("[CoverWorker] Stopped")
}

// Stats 返回运行统计
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Dequeued:  atomic.LoadUint64(&w.dequeued),
		Succeeded: atomic.LoadUint64(&w.succeeded),
		Skipped:   atomic.LoadUint64(&w.skipped),
		Failed:    atomic.LoadUint64(&w.failed),
	}
}

// runLoop 消费循环，除 Stop 外永不自行退出
func (w *Worker) runLoop(id int) {
	for {
		jobID, err := w.queue.Dequeue(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			// 出队失败不退出进程，退避后重试
			log.Printf("[CoverWorker-%d] dequeue failed: %v", id, err)
			select {
			case <-time.After(dequeueFailureDelay):
			case <-w.ctx.Done():
				return
			}
			continue
		}

		atomic.AddUint64(&w.dequeued, 1)
		w.processOne(jobID)
	}
}

// processOne 处理单个任务
// Dequeued → 租约 → 解析源 → 按格式尝试 → 成功回写目录 / 全失败丢弃。
// 任何失败都不会让任务回到队列，条目由下一轮回扫重新发现。
func (w *Worker) processOne(jobID string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[CoverWorker] panic while processing %s: %v", jobID, rec)
			atomic.AddUint64(&w.failed, 1)
		}
	}()

	// 单条目租约，多 worker 下防止同条目并发生成；租约到期自动释放
	acquired, err := w.locker.TryAcquire(w.ctx, leaseKeyPrefix+jobID, w.opts.LeaseTTL)
	if err != nil {
		log.Printf("[CoverWorker] lease error for %s, dropping job: %v", jobID, err)
		atomic.AddUint64(&w.skipped, 1)
		return
	}
	if !acquired {
		utils.LogIfDevf("[CoverWorker] %s already leased, skipping", jobID)
		atomic.AddUint64(&w.skipped, 1)
		return
	}

	video, err := w.catalog.GetByIdentifier(jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 条目已删除或标识符过期，按无事可做处理，避免毒化队列
			utils.LogIfDevf("[CoverWorker] %s not in catalog, nothing to generate", jobID)
			atomic.AddUint64(&w.skipped, 1)
			return
		}
		log.Printf("[CoverWorker] catalog lookup failed for %s: %v", jobID, err)
		atomic.AddUint64(&w.failed, 1)
		return
	}

	if video.HasCover() {
		// 重复任务，封面已就位
		utils.LogIfDevf("[CoverWorker] %s already has cover, skipping", jobID)
		atomic.AddUint64(&w.skipped, 1)
		return
	}
	if video.SourceMediaURL == "" {
		utils.LogIfDevf("[CoverWorker] %s has no source media, nothing to generate", jobID)
		atomic.AddUint64(&w.skipped, 1)
		return
	}

	for _, format := range w.opts.Formats {
		destPath := fmt.Sprintf("cover/%s.%s", jobID, format)

		if err := w.gen.GenerateWithRetry(w.ctx, video.SourceMediaURL, destPath, format); err != nil {
			utils.LogIfDevf("[CoverWorker] format %s failed for %s: %v", format, jobID, err)
			continue
		}

		coverURL := fmt.Sprintf("%s/%s.%s", w.opts.PublicPrefix, jobID, format)
		if err := w.catalog.UpdateCoverURL(jobID, coverURL); err != nil {
			// 文件已落盘但目录未更新，cover_url 仍为空，下一轮回扫天然重试
			log.Printf("[CoverWorker] cover written but catalog update failed for %s: %v", jobID, err)
			atomic.AddUint64(&w.failed, 1)
			return
		}

		utils.LogIfDevf("[CoverWorker] cover ready for %s: %s", jobID, coverURL)
		atomic.AddUint64(&w.succeeded, 1)
		return
	}

	// 所有格式耗尽，任务丢弃，由回扫兜底
	log.Printf("[CoverWorker] all formats failed for %s, dropping job", jobID)
	atomic.AddUint64(&w.failed, 1)
}
