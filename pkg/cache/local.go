package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// localCache 基于 golang-lru 的有界本地缓存，满了以后淘汰最久未使用的项
type localCache struct {
	config LocalConfig
	lru    *expirable.LRU[string, cacheItem]
	mu     sync.Mutex // 保护 Increment 的读改写
}

// cacheItem 缓存项；单项过期时间可短于 LRU 整体 TTL
type cacheItem struct {
	value      interface{}
	expiration time.Time
}

func (it cacheItem) expired(now time.Time) bool {
	return !it.expiration.IsZero() && now.After(it.expiration)
}

// NewLocalCache 创建本地缓存
func NewLocalCache(config LocalConfig) Cache {
	size := config.MaxSize
	if size <= 0 {
		size = 1000
	}
	return &localCache{
		config: config,
		lru:    expirable.NewLRU[string, cacheItem](size, nil, config.DefaultExpiration),
	}
}

func (lc *localCache) expiry(expiration time.Duration) time.Time {
	if expiration <= 0 {
		expiration = lc.config.DefaultExpiration
	}
	if expiration <= 0 {
		return time.Time{}
	}
	return time.Now().Add(expiration)
}

func (lc *localCache) load(key string) (cacheItem, bool) {
	item, ok := lc.lru.Get(key)
	if !ok {
		return cacheItem{}, false
	}
	if item.expired(time.Now()) {
		lc.lru.Remove(key)
		return cacheItem{}, false
	}
	return item, true
}

func (lc *localCache) Get(ctx context.Context, key string) (interface{}, bool) {
	item, ok := lc.load(key)
	if !ok {
		return nil, false
	}
	return item.value, true
}

func (lc *localCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	lc.lru.Add(key, cacheItem{value: value, expiration: lc.expiry(expiration)})
	return nil
}

func (lc *localCache) Delete(ctx context.Context, key string) error {
	lc.lru.Remove(key)
	return nil
}

func (lc *localCache) Exists(ctx context.Context, key string) bool {
	_, ok := lc.load(key)
	return ok
}

// Increment 自增，保留原有过期时间
func (lc *localCache) Increment(ctx context.Context, key string, value int64) (int64, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	item, ok := lc.load(key)
	if !ok {
		lc.lru.Add(key, cacheItem{value: value, expiration: lc.expiry(0)})
		return value, nil
	}

	var n int64
	switch v := item.value.(type) {
	case int:
		n = int64(v) + value
	case int64:
		n = v + value
	case float64:
		n = int64(v) + value
	default:
		n = value
	}
	item.value = n
	lc.lru.Add(key, item)
	return n, nil
}

func (lc *localCache) GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, bool) {
	item, ok := lc.load(key)
	if !ok {
		return nil, 0, false
	}
	var ttl time.Duration
	if !item.expiration.IsZero() {
		ttl = time.Until(item.expiration)
		if ttl < 0 {
			ttl = 0
		}
	}
	return item.value, ttl, true
}

func (lc *localCache) Clear(ctx context.Context) error {
	lc.lru.Purge()
	return nil
}

func (lc *localCache) Close() error {
	return nil
}
