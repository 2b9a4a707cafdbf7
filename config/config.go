package config

import (
	"fmt"
	"os"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var (
	globalConfig Config
	once         sync.Once
)

// Config 扁平化配置结构体
type Config struct {
	// 服务器配置
	ServerHost string `mapstructure:"server_host"`
	ServerPort int    `mapstructure:"server_port"`
	Debug      bool   `mapstructure:"debug"`

	// 数据库配置
	DBType     string `mapstructure:"db_type"`
	DBHost     string `mapstructure:"db_host"`
	DBPort     int    `mapstructure:"db_port"`
	DBUsername string `mapstructure:"db_username"`
	DBPassword string `mapstructure:"db_password"`
	DBName     string `mapstructure:"db_name"`
	DBFilePath string `mapstructure:"db_file_path"`

	// 队列/锁后端配置
	BrokerType    string `mapstructure:"broker_type"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// 封面生成配置
	CoverFormats        []string      `mapstructure:"cover_formats"`
	CoverSampleWidth    int           `mapstructure:"cover_sample_width"`
	CoverSamplePoints   []float64     `mapstructure:"cover_sample_points"`
	CoverAttemptTimeout time.Duration `mapstructure:"cover_attempt_timeout"`
	CoverMaxRetries     int           `mapstructure:"cover_max_retries"`
	CoverRetryDelay     time.Duration `mapstructure:"cover_retry_delay"`
	CoverMaxConcurrent  int           `mapstructure:"cover_max_concurrent"`
	CoverPublicPrefix   string        `mapstructure:"cover_public_prefix"`
	CoverLeaseTTL       time.Duration `mapstructure:"cover_lease_ttl"`

	// 回扫配置
	BackfillBatchSize int           `mapstructure:"backfill_batch_size"`
	BackfillInterval  time.Duration `mapstructure:"backfill_interval"`
	BackfillLockTTL   time.Duration `mapstructure:"backfill_lock_ttl"`

	// Worker 配置
	WorkerCount int `mapstructure:"worker_count"`

	// 存储配置
	StorageType      string `mapstructure:"storage_type"`
	StorageLocalPath string `mapstructure:"storage_local_path"`

	// MinIO 存储配置
	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioAccessKey string `mapstructure:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key"`
	MinioBucket    string `mapstructure:"minio_bucket"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl"`

	// WebDAV 存储配置
	WebdavURL      string `mapstructure:"webdav_url"`
	WebdavUsername string `mapstructure:"webdav_username"`
	WebdavPassword string `mapstructure:"webdav_password"`
	WebdavRootPath string `mapstructure:"webdav_root_path"`
}

// InitConfig Initialize configuration
func InitConfig() {
	once.Do(func() {
		loadConfig()
	})
}

func Get() *Config {
	return &globalConfig
}

// loadConfig Core configuration loading
func loadConfig() {
	setDefaults()

	viper.SetConfigFile(".env")
	viper.SetConfigType("env")

	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "Info: .env file not found, using defaults and environment variables")
	} else {
		fmt.Fprintln(os.Stderr, "Info: Loaded configuration from .env file")
	}

	viper.AutomaticEnv()
	for _, key := range viper.AllKeys() {
		viper.BindEnv(key)
	}

	if err := viper.Unmarshal(&globalConfig, viper.DecodeHook(decodeHook())); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: Unable to unmarshal config, %v\n", err)
		os.Exit(1)
	}

	// WorkerCount: -1 = 使用 CPU 线程数, 0/1 = 单消费者, >1 = 使用指定值
	if globalConfig.WorkerCount < 0 {
		globalConfig.WorkerCount = runtime.GOMAXPROCS(0)
	}
}

// decodeHook 组合默认 hook，额外支持 "0.25,0.5,0.75" 形式的采样点列表
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToFloatSliceHookFunc(","),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// stringToFloatSliceHookFunc 逗号分隔字符串转 []float64
func stringToFloatSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t != reflect.TypeOf([]float64{}) {
			return data, nil
		}

		raw := data.(string)
		if raw == "" {
			return []float64{}, nil
		}

		parts := strings.Split(raw, sep)
		points := make([]float64, 0, len(parts))
		for _, part := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid sample point %q: %w", part, err)
			}
			points = append(points, v)
		}
		return points, nil
	}
}

// setDefaults 设置默认值
func setDefaults() {
	// 服务器配置默认值
	viper.SetDefault("server_host", "127.0.0.1")
	viper.SetDefault("server_port", 8080)
	viper.SetDefault("debug", false)

	// 数据库配置默认值
	viper.SetDefault("db_type", "sqlite")
	viper.SetDefault("db_host", "localhost")
	viper.SetDefault("db_port", 5432)
	viper.SetDefault("db_username", "postgres")
	viper.SetDefault("db_password", "")
	viper.SetDefault("db_name", "coverd")
	viper.SetDefault("db_file_path", "")

	// 队列/锁后端配置默认值
	viper.SetDefault("broker_type", "redis")
	viper.SetDefault("redis_addr", "localhost:6379")
	viper.SetDefault("redis_password", "")
	viper.SetDefault("redis_db", 0)

	// 封面生成配置默认值
	viper.SetDefault("cover_formats", "webp,jpg")
	viper.SetDefault("cover_sample_width", 480)
	viper.SetDefault("cover_sample_points", "0.25,0.5,0.75")
	viper.SetDefault("cover_attempt_timeout", "20s")
	viper.SetDefault("cover_max_retries", 3)
	viper.SetDefault("cover_retry_delay", "2s")
	viper.SetDefault("cover_max_concurrent", 2)
	viper.SetDefault("cover_public_prefix", "/uploads/cover")
	viper.SetDefault("cover_lease_ttl", "2m")

	// 回扫配置默认值
	viper.SetDefault("backfill_batch_size", 50)
	viper.SetDefault("backfill_interval", "10m")
	viper.SetDefault("backfill_lock_ttl", "5m")

	// Worker 配置默认值
	viper.SetDefault("worker_count", 1)

	// 存储配置默认值
	viper.SetDefault("storage_type", "local")
	viper.SetDefault("storage_local_path", "./data/uploads")

	// MinIO 存储配置默认值
	viper.SetDefault("minio_endpoint", "")
	viper.SetDefault("minio_access_key", "")
	viper.SetDefault("minio_secret_key", "")
	viper.SetDefault("minio_bucket", "covers")
	viper.SetDefault("minio_use_ssl", true)

	// WebDAV 存储配置默认值
	viper.SetDefault("webdav_url", "")
	viper.SetDefault("webdav_username", "")
	viper.SetDefault("webdav_password", "")
	viper.SetDefault("webdav_root_path", "")
}

// Addr 返回监听地址，格式为 "host:port"
func (c *Config) Addr() string {
	host := c.ServerHost
	if host == "" {
		host = "0.0.0.0"
	}
	port := c.ServerPort
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// GetWorkerCount 返回消费者协程数量，至少为 1
func (c *Config) GetWorkerCount() int {
	if c.WorkerCount <= 0 {
		return 1
	}
	return c.WorkerCount
}
