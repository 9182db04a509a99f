package cache

import (
	"context"
	"time"
)

// Cache 缓存接口
type Cache interface {
	// Get 获取缓存值
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set 设置缓存值，expiration<=0 表示使用默认过期时间
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error

	// Delete 删除缓存
	Delete(ctx context.Context, key string) error

	// Exists 检查键是否存在
	Exists(ctx context.Context, key string) bool

	// Increment 自增；键不存在时以 value 作为初始值
	Increment(ctx context.Context, key string, value int64) (int64, error)

	// GetWithTTL 获取值并返回剩余TTL
	GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, bool)

	// Clear 清空所有缓存
	Clear(ctx context.Context) error

	// Close 关闭缓存连接
	Close() error
}

// Config 缓存配置
type Config struct {
	// 缓存类型: "local"、"gocache" 或 "redis"
	Type string `json:"type" env:"CACHE_TYPE" default:"gocache"`

	Redis RedisConfig `json:"redis"`

	Local LocalConfig `json:"local"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr         string        `json:"addr" env:"REDIS_ADDR" default:"localhost:6379"`
	Password     string        `json:"password" env:"REDIS_PASSWORD"`
	DB           int           `json:"db" env:"REDIS_DB" default:"0"`
	PoolSize     int           `json:"pool_size" env:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `json:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" default:"5"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `json:"write_timeout" env:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// LocalConfig 本地缓存配置
type LocalConfig struct {
	// 最大缓存项数（仅 local 类型生效）
	MaxSize int `json:"max_size" env:"LOCAL_CACHE_MAX_SIZE" default:"1000"`

	// 默认过期时间
	DefaultExpiration time.Duration `json:"default_expiration" env:"LOCAL_CACHE_DEFAULT_EXPIRATION" default:"5m"`

	// 清理间隔（仅 gocache 类型生效）
	CleanupInterval time.Duration `json:"cleanup_interval" env:"LOCAL_CACHE_CLEANUP_INTERVAL" default:"10m"`
}

// Options 缓存选项
type Options struct {
	// 是否使用本地缓存作为一级缓存
	UseLocalCache bool

	// 本地缓存过期时间（通常比分布式缓存短）
	LocalExpiration time.Duration
}

// DefaultOptions 默认选项
func DefaultOptions() *Options {
	return &Options{
		UseLocalCache:   true,
		LocalExpiration: 1 * time.Minute,
	}
}
