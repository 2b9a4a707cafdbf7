package cover

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/acgntube/coverd/lock"
	"github.com/acgntube/coverd/queue"
	"github.com/acgntube/coverd/utils"
)

// ScannerOptions 回扫配置
type ScannerOptions struct {
	// Interval 回扫周期
	Interval time.Duration
	// LockTTL 回扫锁时长，窗口内全集群只有一次回扫生效
	LockTTL time.Duration
	// BatchSize 单轮最多入队条数
	BatchSize int
}

// ScannerStatus 回扫状态，供状态接口上报
type ScannerStatus struct {
	Running      bool      `json:"running"`
	Interval     string    `json:"interval"`
	BatchSize    int       `json:"batch_size"`
	LastRun      time.Time `json:"last_run"`
	LastEnqueued int       `json:"last_enqueued"`
}

// Scanner 周期性扫描缺失封面的条目并补种队列
type Scanner struct {
	catalog Catalog
	queue   queue.Queue
	locker  lock.Locker
	opts    ScannerOptions

	ticker   *time.Ticker
	stopChan chan struct{}
	trigger  chan struct{}

	mu           sync.Mutex
	isRunning    bool
	lastRun      time.Time
	lastEnqueued int
}

// NewScanner 创建回扫扫描器
func NewScanner(catalog Catalog, q queue.Queue, locker lock.Locker, opts ScannerOptions) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}

	return &Scanner{
		catalog:  catalog,
		queue:    q,
		locker:   locker,
		opts:     opts,
		stopChan: make(chan struct{}),
		trigger:  make(chan struct{}, 1),
	}
}

// Start 启动扫描器，进程启动时先立即执行一次，重复调用为空操作
func (s *Scanner) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.opts.Interval)
	s.mu.Unlock()

	utils.SafeGo("BackfillScanner", func() {
		// 立即执行一次
		s.runOnce()
		s.runLoop()
	})

	log.Printf("[BackfillScanner] Started with interval %v, batch size %d", s.opts.Interval, s.opts.BatchSize)
}

// Stop 停止扫描器
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	s.isRunning = false
	s.ticker.Stop()
	close(s.stopChan)
}

// TriggerManualScan 手动触发一次扫描
func (s *Scanner) TriggerManualScan() error {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()

	if !running {
		return fmt.Errorf("scanner is not running")
	}

	select {
	case s.trigger <- struct{}{}:
	default:
		// 已有待执行的触发
	}
	return nil
}

// Status 返回扫描器状态
func (s *Scanner) Status() ScannerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return ScannerStatus{
		Running:      s.isRunning,
		Interval:     s.opts.Interval.String(),
		BatchSize:    s.opts.BatchSize,
		LastRun:      s.lastRun,
		LastEnqueued: s.lastEnqueued,
	}
}

// runLoop 运行循环
func (s *Scanner) runLoop() {
	for {
		select {
		case <-s.ticker.C:
			s.runOnce()
		case <-s.trigger:
			s.runOnce()
		case <-s.stopChan:
			return
		}
	}
}

// runOnce 执行一轮回扫并记录结果
func (s *Scanner) runOnce() {
	enqueued, err := s.RunOnce(context.Background())
	if err != nil {
		log.Printf("[BackfillScanner] scan failed: %v", err)
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastEnqueued = enqueued
	s.mu.Unlock()
}

// RunOnce 执行一轮回扫，返回本轮入队条数
// 锁被其他进程持有时直接空转返回，不算错误；入队失败立刻中断并上抛，
// 不允许静默丢任务。
func (s *Scanner) RunOnce(ctx context.Context) (int, error) {
	acquired, err := s.locker.TryAcquire(ctx, BackfillLockKey, s.opts.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("backfill lock: %w", err)
	}
	if !acquired {
		utils.LogIfDevf("[BackfillScanner] another scan in flight, skipping")
		return 0, nil
	}

	videos, err := s.catalog.ListMissingCover(s.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("query missing covers: %w", err)
	}
	if len(videos) == 0 {
		utils.LogIfDevf("[BackfillScanner] no items missing covers")
		return 0, nil
	}

	enqueued := 0
	for _, video := range videos {
		if err := s.queue.Enqueue(ctx, video.Identifier); err != nil {
			return enqueued, fmt.Errorf("enqueue %s: %w", video.Identifier, err)
		}
		enqueued++
	}

	log.Printf("[BackfillScanner] enqueued %d item(s) missing covers", enqueued)
	return enqueued, nil
}
