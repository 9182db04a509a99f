package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// goCacheWrapper go-cache包装器
type goCacheWrapper struct {
	cache *gocache.Cache
}

// NewGoCache 创建基于go-cache的本地缓存
func NewGoCache(config LocalConfig) Cache {
	return &goCacheWrapper{
		cache: gocache.New(config.DefaultExpiration, config.CleanupInterval),
	}
}

func ttlOrDefault(expiration time.Duration) time.Duration {
	if expiration <= 0 {
		return gocache.DefaultExpiration
	}
	return expiration
}

func (gc *goCacheWrapper) Get(ctx context.Context, key string) (interface{}, bool) {
	return gc.cache.Get(key)
}

func (gc *goCacheWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	gc.cache.Set(key, value, ttlOrDefault(expiration))
	return nil
}

func (gc *goCacheWrapper) Delete(ctx context.Context, key string) error {
	gc.cache.Delete(key)
	return nil
}

func (gc *goCacheWrapper) Exists(ctx context.Context, key string) bool {
	_, found := gc.cache.Get(key)
	return found
}

// Increment 自增；go-cache 要求已存值为 int64
func (gc *goCacheWrapper) Increment(ctx context.Context, key string, value int64) (int64, error) {
	if newValue, err := gc.cache.IncrementInt64(key, value); err == nil {
		return newValue, nil
	}

	// 键不存在（或类型不符）时重置为初始值
	gc.cache.Set(key, value, gocache.DefaultExpiration)
	return value, nil
}

func (gc *goCacheWrapper) GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, bool) {
	value, expiration, found := gc.cache.GetWithExpiration(key)
	if !found {
		return nil, 0, false
	}
	var ttl time.Duration
	if !expiration.IsZero() {
		ttl = time.Until(expiration)
		if ttl < 0 {
			ttl = 0
		}
	}
	return value, ttl, true
}

func (gc *goCacheWrapper) Clear(ctx context.Context) error {
	gc.cache.Flush()
	return nil
}

func (gc *goCacheWrapper) Close() error {
	return nil
}

// ItemCount 获取缓存项数量（监控用）
func (gc *goCacheWrapper) ItemCount() int {
	return gc.cache.ItemCount()
}
