package storage

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/acgntube/coverd/config"
)

// Provider 封面存储提供者接口
// identifier 是相对路径形式的对象名，如 "cover/000123.webp"
type Provider interface {
	// SaveWithContext 保存文件到存储
	SaveWithContext(ctx context.Context, identifier string, file io.Reader) error

	// GetWithContext 从存储获取文件
	GetWithContext(ctx context.Context, identifier string) (io.ReadCloser, error)

	// DeleteWithContext 从存储删除文件
	DeleteWithContext(ctx context.Context, identifier string) error

	// Exists 检查文件是否存在
	Exists(ctx context.Context, identifier string) (bool, error)

	// Health 检查存储健康状态
	Health(ctx context.Context) error

	// Name 返回存储名称
	Name() string
}

// NewFromConfig 根据配置创建封面存储后端
func NewFromConfig(cfg *config.Config) (Provider, error) {
	switch cfg.StorageType {
	case "local", "":
		provider, err := NewLocalStorage(cfg.StorageLocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		log.Printf("[Storage] Using 'local' provider at %s", cfg.StorageLocalPath)
		return provider, nil
	case "minio":
		provider, err := NewMinioStorage(MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize minio storage: %w", err)
		}
		log.Printf("[Storage] Using 'minio' provider, bucket %s", cfg.MinioBucket)
		return provider, nil
	case "webdav":
		provider, err := NewWebDAVStorage(WebDAVConfig{
			URL:      cfg.WebdavURL,
			Username: cfg.WebdavUsername,
			Password: cfg.WebdavPassword,
			RootPath: cfg.WebdavRootPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize webdav storage: %w", err)
		}
		log.Printf("[Storage] Using 'webdav' provider at %s", cfg.WebdavURL)
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
}
