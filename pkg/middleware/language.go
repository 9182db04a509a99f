package middleware

import (
	"MediLink/pkg/constant"
	"MediLink/pkg/i18n"

	"github.com/gin-gonic/gin"
)

// LanguageMiddleware 解析请求语言，?lang= 优先于 Accept-Language
func LanguageMiddleware(i18nSupport *i18n.I18nSupport) gin.HandlerFunc {
	if i18nSupport == nil {
		i18nSupport = i18n.Default()
	}
	return func(c *gin.Context) {
		lang := c.Query("lang")
		if lang == "" {
			lang = c.GetHeader(constant.HeaderAcceptLanguage)
		}
		c.Set(constant.LangField, i18nSupport.Match(lang))
		c.Next()
	}
}

// Lang 取当前请求语言
func Lang(c *gin.Context) string {
	if v := c.GetString(constant.LangField); v != "" {
		return v
	}
	return "en"
}
