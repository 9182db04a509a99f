package handlers

import (
	"MediLink/pkg/errors"
	"MediLink/pkg/logger"
	"MediLink/pkg/middleware"
	"MediLink/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// fail 按请求语言翻译业务错误后输出；模型层的 Message 是 i18n 键
func (h *Handlers) fail(c *gin.Context, err error) {
	e, ok := errors.As(err)
	if !ok || e.Code == 0 {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		response.AbortWithError(c, err)
		return
	}

	data := map[string]interface{}{"Field": e.Field, "Number": h.cfg.Alert.EmergencyNumber}
	for _, kv := range e.Context {
		data[kv.Key] = kv.Value
	}
	localized := *e
	localized.Message = h.i18n.T(middleware.Lang(c), e.Message, data)
	response.AbortWithError(c, &localized)
}

// t 翻译成功提示
func (h *Handlers) t(c *gin.Context, key string) string {
	return h.i18n.T(middleware.Lang(c), key, map[string]interface{}{"Number": h.cfg.Alert.EmergencyNumber})
}
