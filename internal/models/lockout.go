package models

import (
	"context"
	"time"

	"MediLink/pkg/cache"
	"MediLink/pkg/config"
	"MediLink/pkg/constant"
)

// LoginGuard 登录失败计数与锁定，以服务端为准
type LoginGuard struct {
	cache       cache.Cache
	maxAttempts int
	window      time.Duration
	duration    time.Duration
}

// LoginAttempt 一次失败后的状态
type LoginAttempt struct {
	Locked     bool
	Remaining  int
	RetryAfter time.Duration
}

func NewLoginGuard(c cache.Cache, cfg config.LockoutConfig) *LoginGuard {
	g := &LoginGuard{cache: c, maxAttempts: cfg.MaxAttempts, window: cfg.Window, duration: cfg.Duration}
	if g.maxAttempts <= 0 {
		g.maxAttempts = 5
	}
	if g.window <= 0 {
		g.window = 15 * time.Minute
	}
	if g.duration <= 0 {
		g.duration = 15 * time.Minute
	}
	return g
}

// Locked 返回是否锁定及剩余时间
func (g *LoginGuard) Locked(ctx context.Context, email string) (bool, time.Duration) {
	_, ttl, ok := g.cache.GetWithTTL(ctx, constant.CacheKeyLoginLocked+normalizeEmail(email))
	if !ok {
		return false, 0
	}
	if ttl <= 0 {
		ttl = g.duration
	}
	return true, ttl
}

// Fail 记录一次失败，达到上限时锁定并清空计数
func (g *LoginGuard) Fail(ctx context.Context, email string) (LoginAttempt, error) {
	key := constant.CacheKeyLoginAttempts + normalizeEmail(email)
	var n int64
	if !g.cache.Exists(ctx, key) {
		if err := g.cache.Set(ctx, key, int64(1), g.window); err != nil {
			return LoginAttempt{}, err
		}
		n = 1
	} else {
		v, err := g.cache.Increment(ctx, key, 1)
		if err != nil {
			return LoginAttempt{}, err
		}
		n = v
	}
	if int(n) < g.maxAttempts {
		return LoginAttempt{Remaining: g.maxAttempts - int(n)}, nil
	}
	if err := g.cache.Set(ctx, constant.CacheKeyLoginLocked+normalizeEmail(email), true, g.duration); err != nil {
		return LoginAttempt{}, err
	}
	_ = g.cache.Delete(ctx, key)
	return LoginAttempt{Locked: true, RetryAfter: g.duration}, nil
}

// Reset 登录成功后清空计数
func (g *LoginGuard) Reset(ctx context.Context, email string) {
	_ = g.cache.Delete(ctx, constant.CacheKeyLoginAttempts+normalizeEmail(email))
}
