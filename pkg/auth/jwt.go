package auth

import (
	"fmt"
	"strings"
	"time"

	"MediLink/pkg/constant"
	"MediLink/pkg/errors"

	"github.com/golang-jwt/jwt/v4"
)

const defaultIssuer = "medilink"

// Claims 令牌声明，UserID 与 users.id 一致
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenService 签发与校验 HS256 令牌
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService ttl<=0 时默认 12 小时
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenService{secret: []byte(secret), issuer: defaultIssuer, ttl: ttl, now: time.Now}
}

// Generate 生成令牌，返回过期时间
func (s *TokenService) Generate(userID, role, name string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := &Claims{
		UserID: userID,
		Role:   role,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return signed, exp, nil
}

// Parse 校验令牌并返回声明；任何失败都是 401
func (s *TokenService) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.WithCode(401, "invalid or expired token")
	}
	if claims.Issuer != s.issuer || claims.UserID == "" {
		return nil, errors.WithCode(401, "invalid token claims")
	}
	return claims, nil
}

// Expiry 不验签读取过期时间，只用于客户端判断本地登录态；读不出时返回零值
func Expiry(tokenString string) time.Time {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// ExtractBearer 去掉 "Bearer " 前缀；不带前缀时返回空
func ExtractBearer(header string) string {
	if len(header) > len(constant.BearerPrefix) && strings.EqualFold(header[:len(constant.BearerPrefix)], constant.BearerPrefix) {
		return strings.TrimSpace(header[len(constant.BearerPrefix):])
	}
	return ""
}
