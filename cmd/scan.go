package cmd

import (
	"context"
	"log"

	"github.com/acgntube/coverd/broker"
	"github.com/acgntube/coverd/config"
	"github.com/acgntube/coverd/database"
	"github.com/acgntube/coverd/database/repo/videos"
	"github.com/acgntube/coverd/internal/cover"
	"github.com/acgntube/coverd/lock"
	"github.com/acgntube/coverd/queue"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

// scanCmd 手动执行一次补偿扫描后退出
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single backfill pass and exit",
	Run: func(cmd *cobra.Command, args []string) {
		runScan()
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan() {
	config.InitConfig()
	cfg := config.Get()

	db, err := database.NewDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	catalog := videos.NewRepository(db)

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
	defer jobQueue.Close()

	locker, err := lock.NewFromConfig(cfg, redisClient)
	if err != nil {
		log.Fatalf("Failed to initialize lock: %v", err)
	}

	scanner := cover.NewScanner(catalog, jobQueue, locker, cover.ScannerOptions{
		Interval:  cfg.BackfillInterval,
		LockTTL:   cfg.BackfillLockTTL,
		BatchSize: cfg.BackfillBatchSize,
	})

	enqueued, err := scanner.RunOnce(context.Background())
	if err != nil {
		log.Fatalf("Backfill pass failed: %v", err)
	}
	log.Printf("[BackfillScanner] Manual pass enqueued %d job(s)", enqueued)
}
