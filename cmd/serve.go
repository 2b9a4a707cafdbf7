package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acgntube/coverd/api/core"
	"github.com/acgntube/coverd/broker"
	"github.com/acgntube/coverd/config"
	"github.com/acgntube/coverd/database"
	"github.com/acgntube/coverd/database/repo/videos"
	"github.com/acgntube/coverd/internal/cover"
	"github.com/acgntube/coverd/lock"
	"github.com/acgntube/coverd/queue"
	"github.com/acgntube/coverd/storage"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start cover worker, backfill scanner and the ops API",
	Run: func(cmd *cobra.Command, args []string) {
		RunServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func RunServer() {
	config.InitConfig()
	cfg := config.Get()

	if err := os.MkdirAll("./data", os.ModePerm); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	db, err := database.NewDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to auto migrate database: %v", err)
	}

	catalog := videos.NewRepository(db)

	// 共享 Redis 客户端，队列与锁复用；memory 后端不需要
	var redisClient *redis.Client
	if cfg.BrokerType == "redis" || cfg.BrokerType == "" {
		redisClient, err = broker.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
	}

	jobQueue, err := queue.NewFromConfig(cfg, redisClient)
	if err != nil {
		log.Fatalf("Failed to initialize queue: %v", err)
	}
	locker, err := lock.NewFromConfig(cfg, redisClient)
	if err != nil {
		log.Fatalf("Failed to initialize lock: %v", err)
	}

	coverStorage, err := storage.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	generator, err := cover.NewGenerator(coverStorage, cover.GeneratorOptions{
		Width:          cfg.CoverSampleWidth,
		SamplePoints:   cfg.CoverSamplePoints,
		AttemptTimeout: cfg.CoverAttemptTimeout,
		MaxRetries:     cfg.CoverMaxRetries,
		RetryDelay:     cfg.CoverRetryDelay,
		MaxConcurrent:  int64(cfg.CoverMaxConcurrent),
	})
	if err != nil {
		log.Fatalf("Failed to initialize cover generator: %v", err)
	}

	// 进程内只构造并启动一份 worker 和 scanner，生命周期由这里全权负责
	worker := cover.NewWorker(jobQueue, locker, catalog, generator, cover.WorkerOptions{
		Formats:      cfg.CoverFormats,
		PublicPrefix: cfg.CoverPublicPrefix,
		LeaseTTL:     cfg.CoverLeaseTTL,
		Count:        cfg.GetWorkerCount(),
	})
	worker.Start()

	scanner := cover.NewScanner(catalog, jobQueue, locker, cover.ScannerOptions{
		Interval:  cfg.BackfillInterval,
		LockTTL:   cfg.BackfillLockTTL,
		BatchSize: cfg.BackfillBatchSize,
	})
	scanner.Start()

	// 启动gin
	server := core.StartServer(&core.ServerDependencies{
		DB:      db,
		Queue:   jobQueue,
		Storage: coverStorage,
		Catalog: catalog,
		Scanner: scanner,
		Worker:  worker,
	})
	go func() {
		log.Printf("Ops server started on %s", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// 处理退出signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	scanner.Stop()
	worker.Stop()

	if err := jobQueue.Close(); err != nil {
		log.Printf("Error closing queue: %v", err)
	}

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Exited successfully")
}
