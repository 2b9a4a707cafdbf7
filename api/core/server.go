package core

import (
	"net/http"
	"time"

	"github.com/acgntube/coverd/api/middleware"
	"github.com/acgntube/coverd/config"
	"github.com/acgntube/coverd/internal/cover"
	"github.com/acgntube/coverd/queue"
	"github.com/acgntube/coverd/storage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var startTime = time.Now()

// ServerDependencies 服务器依赖项
type ServerDependencies struct {
	DB      *gorm.DB
	Queue   queue.Queue
	Storage storage.Provider
	Catalog cover.Catalog
	Scanner *cover.Scanner
	Worker  *cover.Worker
}

// setupRouter 组装运维面路由
func setupRouter(deps *ServerDependencies) *gin.Engine {
	if !config.Get().Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if config.Get().Debug {
		router.Use(gin.Logger())
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.SetTrustedProxies(nil)

	router.GET("/health", healthHandler(deps))

	// 手动触发限流，避免运维脚本抖动引发回扫风暴
	triggerLimiter := middleware.NewSimpleRateLimiter(1, 2)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.GET("/scanner/status", scannerStatusHandler(deps))
		apiV1.POST("/scanner/trigger", triggerLimiter.Middleware(), scannerTriggerHandler(deps))
		apiV1.GET("/worker/stats", workerStatsHandler(deps))
		apiV1.POST("/covers/:id", enqueueCoverHandler(deps))
	}

	return router
}

// StartServer 创建 HTTP 服务器
func StartServer(deps *ServerDependencies) *http.Server {
	router := setupRouter(deps)
	cfg := config.Get()

	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
