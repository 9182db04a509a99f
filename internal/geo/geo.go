package geo

import (
	"context"
	"time"

	"MediLink/internal/models"
	"MediLink/pkg/cache"
	"MediLink/pkg/constant"
	"MediLink/pkg/errors"
	"MediLink/pkg/logger"

	"go.uber.org/zap"
)

// ErrDenied 用户拒绝定位权限
var ErrDenied = errors.Permission("location permission denied")

// Position 一次定位结果
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Address   string    `json:"address,omitempty"`
	FixedAt   time.Time `json:"fixedAt"`
}

func (p *Position) Location() *models.Location {
	if p == nil {
		return nil
	}
	return &models.Location{Latitude: p.Latitude, Longitude: p.Longitude, Accuracy: p.Accuracy, Address: p.Address}
}

// Provider 设备定位；实现需要响应 ctx 取消
type Provider interface {
	Position(ctx context.Context) (*Position, error)
}

// ProviderFunc 函数适配
type ProviderFunc func(ctx context.Context) (*Position, error)

func (f ProviderFunc) Position(ctx context.Context) (*Position, error) { return f(ctx) }

// Static 固定坐标，控制台和测试使用
type Static struct {
	Latitude, Longitude, Accuracy float64
	Address                       string
}

func (s Static) Position(context.Context) (*Position, error) {
	return &Position{Latitude: s.Latitude, Longitude: s.Longitude, Accuracy: s.Accuracy, Address: s.Address, FixedAt: time.Now()}, nil
}

// Denied 总是拒绝
type Denied struct{}

func (Denied) Position(context.Context) (*Position, error) { return nil, ErrDenied }

// Cached 复用不超过 maxAge 的上一次定位
type Cached struct {
	inner  Provider
	cache  cache.Cache
	maxAge time.Duration
	now    func() time.Time
}

func NewCached(inner Provider, c cache.Cache, maxAge time.Duration) *Cached {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &Cached{inner: inner, cache: c, maxAge: maxAge, now: time.Now}
}

func (c *Cached) Position(ctx context.Context) (*Position, error) {
	var pos Position
	if ok, err := cache.GetJSON(ctx, c.cache, constant.CacheKeyPosition, &pos); err == nil && ok {
		if c.now().Sub(pos.FixedAt) <= c.maxAge {
			return &pos, nil
		}
	}
	fresh, err := c.inner.Position(ctx)
	if err != nil {
		return nil, err
	}
	if fresh.FixedAt.IsZero() {
		fresh.FixedAt = c.now()
	}
	if err := cache.SetJSON(ctx, c.cache, constant.CacheKeyPosition, fresh, c.maxAge); err != nil {
		logger.Debug("cache position", zap.Error(err))
	}
	return fresh, nil
}

// Fetch 带超时的一次定位；失败、超时、拒绝都返回 nil，警报照常发送
func Fetch(ctx context.Context, p Provider, timeout time.Duration) *models.Location {
	if p == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		pos *Position
		err error
	}
	ch := make(chan result, 1)
	go func() {
		pos, err := p.Position(ctx)
		ch <- result{pos, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.IsKind(r.err, errors.KindPermission) {
				logger.Debug("location permission denied")
			} else {
				logger.Warn("location unavailable", zap.Error(r.err))
			}
			return nil
		}
		return r.pos.Location()
	case <-ctx.Done():
		logger.Warn("location timed out", zap.Duration("timeout", timeout))
		return nil
	}
}
