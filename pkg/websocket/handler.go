package websocket

import (
	"net/http"
	"time"

	"MediLink/pkg/constant"
	"MediLink/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler WebSocket HTTP处理器
type Handler struct {
	hub *Hub
}

// NewHandler 创建新的WebSocket处理器
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes 统一注册路由；auth 负责把用户身份写入 gin.Context
func RegisterRoutes(r gin.IRoutes, handler *Handler, auth ...gin.HandlerFunc) {
	r.GET(RouteWebSocket, append(auth, handler.HandleWebSocket)...)
	r.GET(RouteWebSocketStats, handler.GetStats)
	r.GET(RouteWebSocketHealth, handler.HealthCheck)
}

// HandleWebSocket 处理医生端推送连接
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString(constant.UserIDField)
	if userID == "" {
		logger.Warn("push channel rejected", zap.String("reason", ErrUnauthenticated))
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthenticated})
		return
	}

	role := c.GetString(constant.RoleField)
	var groups []string
	switch role {
	case constant.RoleDoctor:
		groups = []string{GroupDoctors}
	case constant.RoleAdmin:
		groups = []string{GroupDoctors, GroupAdmins}
	default:
		c.JSON(http.StatusForbidden, gin.H{"error": "push channel is for doctors only"})
		return
	}

	HandleWebSocket(h.hub, c.Writer, c.Request, userID, role, groups...)
}

// GetStats 获取WebSocket统计信息
func (h *Handler) GetStats(c *gin.Context) {
	stats := GetConfigSummary(h.hub.config)
	stats["total_connections"] = h.hub.GetConnectionCount()
	stats["doctor_connections"] = h.hub.GetGroupConnections(GroupDoctors)
	c.JSON(http.StatusOK, stats)
}

// HealthCheck WebSocket健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	if err := h.hub.ctx.Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"error":   ErrHubClosed,
			"details": err.Error(),
		})
		return
	}

	totalConnections := h.hub.GetConnectionCount()
	maxConnections := h.hub.config.MaxConnections

	status := "healthy"
	if totalConnections >= maxConnections*9/10 {
		status = "warning"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            status,
		"total_connections": totalConnections,
		"max_connections":   maxConnections,
		"connection_usage":  float64(totalConnections) / float64(maxConnections) * 100,
		"timestamp":         time.Now().Unix(),
	})
}
