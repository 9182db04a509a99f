package session

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"MediLink/internal/client"
	"MediLink/internal/models"
	"MediLink/pkg/auth"
	"MediLink/pkg/cache"
	"MediLink/pkg/constant"
	"MediLink/pkg/errors"
	"MediLink/pkg/logger"

	"go.uber.org/zap"
)

// API session 依赖的接口，*client.Client 满足
type API interface {
	Login(ctx context.Context, email, password string) (*client.Session, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*models.User, error)
	SetToken(token string)
}

// Provider 客户端登录态；锁定以服务端为准，本地只留提示
type Provider struct {
	api   API
	cache cache.Cache

	mu      sync.RWMutex
	user    *models.User
	expires time.Time
}

func NewProvider(api API, c cache.Cache) *Provider {
	return &Provider{api: api, cache: c}
}

// Login 成功后清除锁定提示；423 时按 Retry-After 记录提示
func (p *Provider) Login(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s, err := p.api.Login(ctx, email, password)
	if err != nil {
		if errors.GetCode(err) == http.StatusLocked {
			retry, ok := client.RetryAfter(err)
			if !ok {
				retry = 15 * time.Minute
			}
			if p.cache != nil {
				if cerr := cache.SetJSON(ctx, p.cache, constant.CacheKeyLockoutHint+email, time.Now().Add(retry), retry); cerr != nil {
					logger.Debug("store lockout hint", zap.Error(cerr))
				}
			}
		}
		return nil, err
	}
	if p.cache != nil {
		_ = p.cache.Delete(ctx, constant.CacheKeyLockoutHint+email)
	}
	p.mu.Lock()
	p.user = s.User
	p.expires = s.ExpiresAt
	p.mu.Unlock()
	return s.User, nil
}

// LockoutHint 表单是否应预先禁用及剩余时间；仅供展示
func (p *Provider) LockoutHint(ctx context.Context, email string) (bool, time.Duration) {
	if p.cache == nil {
		return false, 0
	}
	email = strings.ToLower(strings.TrimSpace(email))
	var until time.Time
	if ok, err := cache.GetJSON(ctx, p.cache, constant.CacheKeyLockoutHint+email, &until); err != nil || !ok {
		return false, 0
	}
	left := time.Until(until)
	if left <= 0 {
		return false, 0
	}
	return true, left
}

// Load 用已保存的令牌恢复登录态；过期时间取令牌里的 exp，之前登录留下的过期时间作废
func (p *Provider) Load(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, errors.WithCode(http.StatusUnauthorized, "no saved session")
	}
	p.api.SetToken(token)
	u, err := p.api.Me(ctx)
	if err != nil {
		p.api.SetToken("")
		return nil, err
	}
	p.mu.Lock()
	p.user = u
	p.expires = auth.Expiry(token)
	p.mu.Unlock()
	return u, nil
}

// Logout 服务端失败时本地照样登出
func (p *Provider) Logout(ctx context.Context) {
	if err := p.api.Logout(ctx); err != nil {
		logger.Warn("logout request failed", zap.Error(err))
	}
	p.mu.Lock()
	p.user = nil
	p.expires = time.Time{}
	p.mu.Unlock()
}

// Current 未登录或令牌已过期返回 nil
func (p *Provider) Current() *models.User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.user == nil {
		return nil
	}
	if !p.expires.IsZero() && time.Now().After(p.expires) {
		return nil
	}
	return p.user
}

// Authenticated 供 trigger 判断是否直接倒计时提交
func (p *Provider) Authenticated() bool { return p.Current() != nil }
