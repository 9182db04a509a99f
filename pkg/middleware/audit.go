package middleware

import (
	"net"
	"net/http"
	"time"

	"MediLink/pkg/constant"
	"MediLink/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/mssola/user_agent"
	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditLog 写操作审计记录：提交警报、医生响应、登录
type AuditLog struct {
	ID              int64     `gorm:"primaryKey;autoIncrement;not null" json:"id"`
	UserID          string    `gorm:"size:64;index" json:"user_id"`
	Role            string    `gorm:"size:16" json:"role"`
	Action          string    `gorm:"size:16;not null" json:"action"`
	Target          string    `gorm:"size:255;not null" json:"target"`
	Status          int       `json:"status"`
	IPAddress       string    `gorm:"size:64" json:"ip_address"`
	UserAgent       string    `gorm:"size:512" json:"user_agent"`
	Referer         string    `gorm:"size:512" json:"referer"`
	Device          string    `gorm:"size:64" json:"device"`
	Browser         string    `gorm:"size:64" json:"browser"`
	OperatingSystem string    `gorm:"size:64" json:"operating_system"`
	Location        string    `gorm:"size:128" json:"location"`
	LatencyMs       int64     `json:"latency_ms"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// GeoLocator IP 到城市名，*geoip2.Reader 通过 GeoIPLocator 适配
type GeoLocator interface {
	City(ip net.IP) string
}

// GeoIPLocator 包装 MaxMind 数据库，启动时打开一次
type GeoIPLocator struct {
	reader *geoip2.Reader
}

// OpenGeoIP 打开 GeoLite2 数据库；path 为空时返回 nil，审计不带位置
func OpenGeoIP(path string) (*GeoIPLocator, error) {
	if path == "" {
		return nil, nil
	}
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &GeoIPLocator{reader: r}, nil
}

func (g *GeoIPLocator) City(ip net.IP) string {
	if g == nil || g.reader == nil || ip == nil {
		return ""
	}
	record, err := g.reader.City(ip)
	if err != nil {
		return ""
	}
	return record.City.Names["en"]
}

func (g *GeoIPLocator) Close() error {
	if g == nil || g.reader == nil {
		return nil
	}
	return g.reader.Close()
}

// AuditMiddleware 记录写操作，请求处理完成后落库，失败只记日志不影响响应
func AuditMiddleware(db *gorm.DB, geo GeoLocator) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			return
		}
		if db == nil {
			return
		}
		entry := newAuditLog(c, geo)
		entry.LatencyMs = time.Since(start).Milliseconds()
		if err := db.WithContext(c.Request.Context()).Create(entry).Error; err != nil {
			logger.Warn("audit log write failed", zap.String("target", entry.Target), zap.Error(err))
		}
	}
}

func newAuditLog(c *gin.Context, geo GeoLocator) *AuditLog {
	uaHeader := c.GetHeader("User-Agent")
	ua := user_agent.New(uaHeader)
	browser, version := ua.Browser()
	target := c.FullPath()
	if target == "" {
		target = c.Request.URL.Path
	}
	ip := c.ClientIP()
	entry := &AuditLog{
		UserID:          c.GetString(constant.UserIDField),
		Role:            c.GetString(constant.RoleField),
		Action:          c.Request.Method,
		Target:          target,
		Status:          c.Writer.Status(),
		IPAddress:       ip,
		UserAgent:       uaHeader,
		Referer:         c.GetHeader("Referer"),
		Device:          ua.Platform(),
		Browser:         browser + " " + version,
		OperatingSystem: ua.OS(),
	}
	if geo != nil {
		entry.Location = geo.City(net.ParseIP(ip))
	}
	return entry
}
