package middleware

import (
	"bytes"
	"net/http"
	"strings"
	"sync"
	"time"

	"MediLink/pkg/cache"
	"MediLink/pkg/constant"
	"MediLink/pkg/logger"
	"MediLink/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IdempotencyConfig 幂等配置
//
// 只在请求带 Idempotency-Key 时生效。同一键的重复请求直接回放第一次的响应，
// 第一次仍在处理中时返回 409。5xx 不缓存，客户端可以用同一键重试。
type IdempotencyConfig struct {
	HeaderName string        // 默认 Idempotency-Key
	TTL        time.Duration // 回放窗口
	Cache      cache.Cache   // 必填，gocache/redis 均可
	MaxKeyLen  int           // 超长键直接 400
}

type idemRecord struct {
	Pending     bool   `json:"pending"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// captureWriter 记录写出的响应体
type captureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware 幂等中间件
func IdempotencyMiddleware(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = constant.HeaderIdempotencyKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxKeyLen <= 0 {
		cfg.MaxKeyLen = 128
	}
	// 缓存接口没有 SetNX，同进程内用锁保证检查和占位是原子的
	var mu sync.Mutex

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if key == "" || cfg.Cache == nil {
			c.Next()
			return
		}
		if len(key) > cfg.MaxKeyLen {
			c.AbortWithStatusJSON(http.StatusBadRequest, response.Body{Code: http.StatusBadRequest, Message: "idempotency key too long", Field: cfg.HeaderName})
			return
		}

		ctx := c.Request.Context()
		cacheKey := idemCacheKey(c, key)

		mu.Lock()
		var rec idemRecord
		found, err := cache.GetJSON(ctx, cfg.Cache, cacheKey, &rec)
		if err != nil {
			logger.Warn("idempotency record unreadable", zap.String("key", cacheKey), zap.Error(err))
			found = false
		}
		if !found {
			err = cache.SetJSON(ctx, cfg.Cache, cacheKey, idemRecord{Pending: true}, cfg.TTL)
		}
		mu.Unlock()

		if found {
			if rec.Pending {
				c.AbortWithStatusJSON(http.StatusConflict, response.Body{Code: http.StatusConflict, Message: "request with this idempotency key is still in progress"})
				return
			}
			c.Header("Idempotent-Replayed", "true")
			c.Data(rec.Status, rec.ContentType, rec.Body)
			c.Abort()
			return
		}
		if err != nil {
			// 缓存不可用时放行，重复提交由业务层兜底
			logger.Warn("idempotency store unavailable", zap.Error(err))
			c.Next()
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status >= http.StatusInternalServerError {
			_ = cfg.Cache.Delete(ctx, cacheKey)
			return
		}
		done := idemRecord{Status: status, ContentType: w.Header().Get("Content-Type"), Body: w.buf.Bytes()}
		if err := cache.SetJSON(ctx, cfg.Cache, cacheKey, done, cfg.TTL); err != nil {
			logger.Warn("idempotency record not saved", zap.String("key", cacheKey), zap.Error(err))
		}
	}
}

// 键按用户和路由隔离，不同患者碰巧生成同一个键不会互相回放
func idemCacheKey(c *gin.Context, key string) string {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	scope := c.GetString(constant.UserIDField)
	if scope == "" {
		scope = "anon:" + c.ClientIP()
	}
	return constant.CacheKeyIdempotency + scope + ":" + c.Request.Method + route + ":" + key
}
