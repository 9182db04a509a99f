package middleware

import (
	"MediLink/pkg/constant"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// InjectDB 将数据库句柄放入请求上下文
func InjectDB(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(constant.DbField, db)
		c.Next()
	}
}

// GetDB 取请求上下文中的数据库句柄
func GetDB(c *gin.Context) *gorm.DB {
	return c.MustGet(constant.DbField).(*gorm.DB)
}
