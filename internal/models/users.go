package models

import (
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"MediLink/pkg/auth"
	"MediLink/pkg/constant"
	"MediLink/pkg/errors"
	"MediLink/pkg/i18n"
	"MediLink/pkg/response"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User 患者、医生、管理员共用
type User struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	Email     string     `json:"email" gorm:"size:128;uniqueIndex"`
	Password  string     `json:"-" gorm:"size:128"`
	Name      string     `json:"name" gorm:"size:128"`
	Phone     string     `json:"phone,omitempty" gorm:"size:32"`
	Role      string     `json:"role" gorm:"size:16;index"`
	Enabled   bool       `json:"enabled"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (u *User) IsDoctor() bool { return u.Role == constant.RoleDoctor || u.Role == constant.RoleAdmin }
func (u *User) IsAdmin() bool  { return u.Role == constant.RoleAdmin }

// ValidRole 注册时允许的角色
func ValidRole(role string) bool {
	switch role {
	case constant.RolePatient, constant.RoleDoctor, constant.RoleAdmin:
		return true
	}
	return false
}

func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func CheckPassword(user *User, password string) bool {
	if user == nil || user.Password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) == nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser 邮箱已存在时返回 409
func CreateUser(db *gorm.DB, email, password, name, phone, role string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.Validation("email", i18n.MsgEmailInvalid)
	}
	if len(password) < 8 {
		return nil, errors.Validation("password", i18n.MsgFieldRequired)
	}
	if phone != "" && !ValidPhone(phone) {
		return nil, errors.Validation("phone", i18n.MsgPhoneInvalid)
	}
	if role == "" {
		role = constant.RolePatient
	}
	if !ValidRole(role) {
		return nil, errors.Validation("role", i18n.MsgFieldRequired)
	}
	if _, err := GetUserByEmail(db, email); err == nil {
		return nil, errors.Rejected(http.StatusConflict, "email already registered")
	}
	hashed, err := HashPassword(password)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	user := &User{
		ID:       uuid.NewString(),
		Email:    email,
		Password: hashed,
		Name:     strings.TrimSpace(name),
		Phone:    strings.TrimSpace(phone),
		Role:     role,
		Enabled:  true,
	}
	if err := db.Create(user).Error; err != nil {
		if stderrors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errors.Rejected(http.StatusConflict, "email already registered")
		}
		return nil, errors.Wrap(err, "create user")
	}
	return user, nil
}

func GetUserByEmail(db *gorm.DB, email string) (*User, error) {
	var user User
	if err := db.Where("email = ?", normalizeEmail(email)).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUserByID(db *gorm.DB, id string) (*User, error) {
	var user User
	if err := db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func SetLastLogin(db *gorm.DB, user *User) error {
	now := time.Now()
	user.LastLogin = &now
	return db.Model(user).Update("last_login", now).Error
}

// CurrentUser 当前请求用户，未登录返回 nil
func CurrentUser(c *gin.Context) *User {
	if v, ok := c.Get(constant.UserField); ok {
		if u, ok := v.(*User); ok {
			return u
		}
	}
	return nil
}

// WithAuth 识别请求用户：Bearer 令牌、?token=（推送通道）、会话 cookie 依次尝试；不拦截请求
func WithAuth(db *gorm.DB, tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := ""
		if tokens != nil {
			raw := auth.ExtractBearer(c.GetHeader(constant.HeaderAuthorization))
			if raw == "" {
				raw = c.Query("token")
			}
			if raw != "" {
				if claims, err := tokens.Parse(raw); err == nil {
					userID = claims.UserID
				}
			}
		}
		if userID == "" {
			if _, ok := c.Get(sessions.DefaultKey); ok {
				if v, ok := sessions.Default(c).Get(constant.SessionField).(string); ok {
					userID = v
				}
			}
		}
		if userID != "" {
			if user, err := GetUserByID(db, userID); err == nil && user.Enabled {
				c.Set(constant.UserField, user)
				c.Set(constant.UserIDField, user.ID)
				c.Set(constant.RoleField, user.Role)
			}
		}
		c.Next()
	}
}

// AuthRequired 要求已登录
func AuthRequired(c *gin.Context) {
	if CurrentUser(c) == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Body{Code: http.StatusUnauthorized, Message: "authentication required"})
		return
	}
	c.Next()
}

// RoleRequired 要求指定角色之一，管理员总是放行
func RoleRequired(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Body{Code: http.StatusUnauthorized, Message: "authentication required"})
			return
		}
		if user.IsAdmin() {
			c.Next()
			return
		}
		for _, r := range roles {
			if user.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, response.Body{Code: http.StatusForbidden, Message: "insufficient permissions"})
	}
}
