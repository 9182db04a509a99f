package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// NewCache 创建缓存实例
func NewCache(config Config) (Cache, error) {
	switch strings.ToLower(config.Type) {
	case "local":
		return NewLocalCache(config.Local), nil
	case "", "gocache":
		return NewGoCache(config.Local), nil
	case "redis":
		return NewRedisCache(config.Redis)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}
}

// NewCacheWithOptions 创建带选项的缓存实例
func NewCacheWithOptions(config Config, options *Options) (Cache, error) {
	if options == nil {
		options = DefaultOptions()
	}

	if options.UseLocalCache && strings.ToLower(config.Type) == "redis" {
		return NewLayeredCache(config, options)
	}

	return NewCache(config)
}

// NewLayeredCache 创建分层缓存（本地缓存 + Redis）
func NewLayeredCache(config Config, options *Options) (Cache, error) {
	localConfig := config.Local
	if options.LocalExpiration > 0 {
		localConfig.DefaultExpiration = options.LocalExpiration
	}

	distributed, err := NewRedisCache(config.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	return newLayeredCache(NewLocalCache(localConfig), distributed, options), nil
}

func newLayeredCache(local, distributed Cache, options *Options) *layeredCache {
	return &layeredCache{local: local, distributed: distributed, options: options}
}

// layeredCache 分层缓存实现
type layeredCache struct {
	local       Cache
	distributed Cache
	options     *Options
}

// Get 从本地缓存获取，如果没有则从分布式缓存获取并回填本地缓存
func (lc *layeredCache) Get(ctx context.Context, key string) (interface{}, bool) {
	if value, exists := lc.local.Get(ctx, key); exists {
		return value, true
	}

	if value, exists := lc.distributed.Get(ctx, key); exists {
		_ = lc.local.Set(ctx, key, value, lc.options.LocalExpiration)
		return value, true
	}

	return nil, false
}

func (lc *layeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.distributed.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	localExp := lc.options.LocalExpiration
	if expiration > 0 && expiration < localExp {
		localExp = expiration
	}
	return lc.local.Set(ctx, key, value, localExp)
}

func (lc *layeredCache) Delete(ctx context.Context, key string) error {
	if err := lc.local.Delete(ctx, key); err != nil {
		return err
	}
	return lc.distributed.Delete(ctx, key)
}

func (lc *layeredCache) Exists(ctx context.Context, key string) bool {
	return lc.local.Exists(ctx, key) || lc.distributed.Exists(ctx, key)
}

// Increment 计数只以分布式缓存为准，本地副本直接失效
func (lc *layeredCache) Increment(ctx context.Context, key string, value int64) (int64, error) {
	result, err := lc.distributed.Increment(ctx, key, value)
	if err != nil {
		return 0, err
	}
	_ = lc.local.Delete(ctx, key)
	return result, nil
}

func (lc *layeredCache) GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, bool) {
	// TTL 以分布式缓存为准
	return lc.distributed.GetWithTTL(ctx, key)
}

func (lc *layeredCache) Clear(ctx context.Context) error {
	if err := lc.local.Clear(ctx); err != nil {
		return err
	}
	return lc.distributed.Clear(ctx)
}

func (lc *layeredCache) Close() error {
	if err := lc.local.Close(); err != nil {
		return err
	}
	return lc.distributed.Close()
}
