package handlers

import (
	"net/http"
	"time"

	"MediLink/pkg/middleware"
	"MediLink/pkg/response"
	"MediLink/pkg/websocket"

	"github.com/gin-gonic/gin"
)

// UpdateRateLimiterConfig 更新限流配置
func (h *Handlers) UpdateRateLimiterConfig(c *gin.Context) {
	if h.limiter == nil {
		response.Fail(c, "rate limiter disabled", nil)
		return
	}
	var cfg middleware.RateLimiterConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}
	if cfg.Rate == "" {
		response.Fail(c, "rate is required", nil)
		return
	}

	h.limiter.UpdateConfig(cfg)
	response.Success(c, "rate limiter config updated", h.limiter.Config())
}

// GetRateLimiterConfig 当前限流配置
func (h *Handlers) GetRateLimiterConfig(c *gin.Context) {
	if h.limiter == nil {
		response.Success(c, "rate limiter disabled", nil)
		return
	}
	response.Success(c, "success", h.limiter.Config())
}

// HealthCheck 健康检查接口
func (h *Handlers) HealthCheck(c *gin.Context) {
	// 检查数据库连接
	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database connection failed"})
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database ping failed"})
		return
	}

	body := gin.H{"status": "healthy", "timestamp": time.Now().Unix()}
	if h.hub != nil {
		body["push_connections"] = h.hub.GetConnectionCount()
		body["doctor_connections"] = h.hub.GetGroupConnections(websocket.GroupDoctors)
	}
	c.JSON(http.StatusOK, body)
}

// SystemStats 主机与运行时指标
func (h *Handlers) SystemStats(c *gin.Context) {
	if h.monitor == nil {
		response.Fail(c, "system monitor disabled", nil)
		return
	}
	response.Success(c, "success", h.monitor.GetLatestStats())
}
