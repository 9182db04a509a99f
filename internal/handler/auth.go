package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"MediLink/internal/models"
	"MediLink/pkg/constant"
	"MediLink/pkg/errors"
	"MediLink/pkg/i18n"
	"MediLink/pkg/logger"
	"MediLink/pkg/middleware"
	"MediLink/pkg/response"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult 登录成功返回的令牌和用户
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// handleRegister 公开注册只能是患者；医生和管理员账号由管理员创建
func (h *Handlers) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errors.Validation("body", i18n.MsgFieldRequired))
		return
	}
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if role == "" {
		role = constant.RolePatient
	}
	if role != constant.RolePatient {
		if current := models.CurrentUser(c); current == nil || !current.IsAdmin() {
			h.fail(c, errors.Permission("insufficient permissions"))
			return
		}
	}
	if strings.TrimSpace(req.Name) == "" {
		h.fail(c, errors.Validation("name", i18n.MsgFieldRequired))
		return
	}

	user, err := models.CreateUser(h.db, req.Email, req.Password, req.Name, req.Phone, role)
	if err != nil {
		h.fail(c, err)
		return
	}
	logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", user.Role))
	response.Created(c, "success", user)
}

// handleLogin 失败计数和锁定以服务端为准；锁定期间返回 423 与 Retry-After
func (h *Handlers) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		h.fail(c, errors.Validation("email", i18n.MsgFieldRequired))
		return
	}
	ctx := c.Request.Context()

	if locked, retry := h.guard.Locked(ctx, req.Email); locked {
		h.abortLocked(c, retry)
		return
	}

	user, err := models.GetUserByEmail(h.db, req.Email)
	if err != nil || !user.Enabled || !models.CheckPassword(user, req.Password) {
		attempt, ferr := h.guard.Fail(ctx, req.Email)
		if ferr != nil {
			logger.Warn("record login failure", zap.Error(ferr))
		}
		h.metrics.RecordLoginFailure(attempt.Locked)
		if attempt.Locked {
			logger.Warn("account locked", zap.String("email", req.Email), zap.String("ip", c.ClientIP()))
			h.abortLocked(c, attempt.RetryAfter)
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Body{
			Code:    http.StatusUnauthorized,
			Message: h.t(c, i18n.MsgLoginFailed),
			Data:    gin.H{"remaining": attempt.Remaining},
		})
		return
	}

	h.guard.Reset(ctx, req.Email)
	if err := models.SetLastLogin(h.db, user); err != nil {
		logger.Warn("update last login", zap.String("user_id", user.ID), zap.Error(err))
	}
	token, expires, err := h.tokens.Generate(user.ID, user.Role, user.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	session := sessions.Default(c)
	session.Set(constant.SessionField, user.ID)
	if err := session.Save(); err != nil {
		logger.Warn("save session", zap.Error(err))
	}

	logger.Info("user signed in", zap.String("user_id", user.ID), zap.String("role", user.Role))
	response.Success(c, "success", LoginResult{Token: token, ExpiresAt: expires, User: user})
}

func (h *Handlers) abortLocked(c *gin.Context, retry time.Duration) {
	secs := int(math.Ceil(retry.Seconds()))
	if secs < 1 {
		secs = 1
	}
	minutes := int(math.Ceil(retry.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	c.Header(constant.HeaderRetryAfter, strconv.Itoa(secs))
	c.AbortWithStatusJSON(http.StatusLocked, response.Body{
		Code: http.StatusLocked,
		Message: h.i18n.T(middleware.Lang(c), i18n.MsgAccountLocked,
			map[string]interface{}{"Minutes": minutes}),
		Data: gin.H{"retryAfter": secs},
	})
}

// handleLogout 清除会话；JWT 由客户端丢弃
func (h *Handlers) handleLogout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		logger.Warn("clear session", zap.Error(err))
	}
	response.Success(c, "success", nil)
}

func (h *Handlers) handleMe(c *gin.Context) {
	response.Success(c, "success", models.CurrentUser(c))
}
