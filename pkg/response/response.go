package response

import (
	"net/http"

	"MediLink/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Body 统一响应结构
type Body struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Field   string      `json:"field,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 200 成功响应
func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: http.StatusOK, Message: message, Data: data})
}

// Created 201 创建成功
func Created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, Body{Code: http.StatusCreated, Message: message, Data: data})
}

// Fail 400 通用失败
func Fail(c *gin.Context, message string, data interface{}) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Body{Code: http.StatusBadRequest, Message: message, Data: data})
}

// AbortWithError 按 *errors.Error 的 Code 输出；非业务错误统一 500
func AbortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := Body{Code: status, Message: "internal error"}
	if e, ok := errors.As(err); ok && e.Code != 0 {
		status = e.Code
		body = Body{Code: e.Code, Message: e.Message, Field: e.Field}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}
