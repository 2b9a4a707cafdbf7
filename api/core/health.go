package core

import (
	"context"
	"net/http"
	"time"

	"github.com/acgntube/coverd/api/common"
	"github.com/acgntube/coverd/config"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// healthHandler 健康检查，汇总各依赖状态
func healthHandler(deps *ServerDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		health := gin.H{
			"status":   "ok",
			"version":  config.Version,
			"uptime":   time.Since(startTime).String(),
			"database": checkDatabaseHealth(deps.DB),
			"storage":  checkStorageHealth(ctx, deps),
			"queue":    checkQueueHealth(ctx, deps),
		}
		c.JSON(http.StatusOK, health)
	}
}

func checkDatabaseHealth(db *gorm.DB) string {
	if db == nil {
		return "not initialized"
	}
	sqlDB, err := db.DB()
	if err != nil {
		return "error: " + err.Error()
	}
	if err := sqlDB.Ping(); err != nil {
		return "unavailable: " + err.Error()
	}
	return "ok"
}

func checkStorageHealth(ctx context.Context, deps *ServerDependencies) string {
	if deps.Storage == nil {
		return "not initialized"
	}
	if err := deps.Storage.Health(ctx); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}

func checkQueueHealth(ctx context.Context, deps *ServerDependencies) gin.H {
	if deps.Queue == nil {
		return gin.H{"status": "not initialized"}
	}
	backlog, err := deps.Queue.Len(ctx)
	if err != nil {
		return gin.H{"status": "error: " + err.Error()}
	}
	return gin.H{"status": "ok", "backlog": backlog}
}

// scannerStatusHandler 回扫状态
func scannerStatusHandler(deps *ServerDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Scanner == nil {
			common.RespondError(c, http.StatusServiceUnavailable, "scanner not running")
			return
		}
		common.RespondSuccess(c, deps.Scanner.Status())
	}
}

// scannerTriggerHandler 手动触发一轮回扫
func scannerTriggerHandler(deps *ServerDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Scanner == nil {
			common.RespondError(c, http.StatusServiceUnavailable, "scanner not running")
			return
		}
		if err := deps.Scanner.TriggerManualScan(); err != nil {
			common.RespondError(c, http.StatusConflict, err.Error())
			return
		}
		common.RespondSuccessMessage(c, "scan triggered", nil)
	}
}

// workerStatsHandler worker 运行统计
func workerStatsHandler(deps *ServerDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Worker == nil {
			common.RespondError(c, http.StatusServiceUnavailable, "worker not running")
			return
		}
		common.RespondSuccess(c, deps.Worker.Stats())
	}
}

// enqueueCoverHandler 为单个条目补种封面任务
// 已有封面的条目不会重复入队，这是入队侧的幂等闸门
func enqueueCoverHandler(deps *ServerDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		video, err := deps.Catalog.GetByIdentifier(id)
		if err != nil {
			common.RespondError(c, http.StatusNotFound, "item not found")
			return
		}
		if video.HasCover() {
			common.RespondSuccessMessage(c, "cover already present", gin.H{"cover_url": video.CoverURL})
			return
		}

		if err := deps.Queue.Enqueue(c.Request.Context(), id); err != nil {
			common.RespondError(c, http.StatusServiceUnavailable, "enqueue failed: "+err.Error())
			return
		}
		common.RespondSuccessMessage(c, "cover generation queued", nil)
	}
}
