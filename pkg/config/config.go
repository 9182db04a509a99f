package config

import (
	"log"
	"os"
	"time"

	"MediLink/pkg/cache"
	"MediLink/pkg/logger"
	"MediLink/pkg/util"
)

// Config 全局配置，服务端与医生端客户端共用
type Config struct {
	Addr          string `env:"ADDR"`
	Mode          string `env:"MODE"`
	DBDriver      string `env:"DB_DRIVER"`
	DSN           string `env:"DSN"`
	Log           logger.LogConfig
	Cache         cache.Config
	APIPrefix     string `env:"API_PREFIX"`
	AuthPrefix    string `env:"AUTH_PREFIX"`
	SessionSecret string `env:"SESSION_SECRET"`
	JWTSecret     string `env:"JWT_SECRET"`
	TokenTTL      time.Duration
	DefaultLang   string `env:"DEFAULT_LANG"`
	GeoIPPath     string `env:"GEOIP_PATH"`
	SearchIndex   string `env:"SEARCH_INDEX_PATH"`

	Alert   AlertConfig
	Lockout LockoutConfig
	Limits  LimitConfig
	Backup  BackupConfig
	Client  ClientConfig
	Notify  NotifyConfig
}

// AlertConfig 警报触发与推送相关配置
type AlertConfig struct {
	CountdownTicks    int           `env:"ALERT_COUNTDOWN_TICKS"`
	TickInterval      time.Duration `env:"ALERT_TICK_INTERVAL"`
	GeoTimeout        time.Duration `env:"ALERT_GEO_TIMEOUT"`
	GeoMaxAge         time.Duration `env:"ALERT_GEO_MAX_AGE"`
	EmergencyNumber   string        `env:"ALERT_EMERGENCY_NUMBER"`
	PollInterval      time.Duration `env:"ALERT_POLL_INTERVAL"`
	BadgePollInterval time.Duration `env:"ALERT_BADGE_POLL_INTERVAL"`
}

// LockoutConfig 登录锁定，服务端为准
type LockoutConfig struct {
	MaxAttempts int           `env:"LOCKOUT_MAX_ATTEMPTS"`
	Window      time.Duration `env:"LOCKOUT_WINDOW"`
	Duration    time.Duration `env:"LOCKOUT_DURATION"`
}

// LimitConfig 限流速率，格式同 ulule/limiter，例如 "10-M"
type LimitConfig struct {
	SubmitRate string `env:"RATE_ALERT_SUBMIT"`
	LoginRate  string `env:"RATE_LOGIN"`
	GlobalRate string `env:"RATE_GLOBAL"`
}

// BackupConfig 数据库备份
type BackupConfig struct {
	Enabled  bool   `env:"BACKUP_ENABLED"`
	Path     string `env:"BACKUP_PATH"`
	Schedule string `env:"BACKUP_SCHEDULE"`
	Upload   bool   `env:"BACKUP_UPLOAD"`
}

// ClientConfig 医生端控制台
type ClientConfig struct {
	BaseURL        string        `env:"MEDILINK_BASE_URL"`
	RequestTimeout time.Duration `env:"MEDILINK_REQUEST_TIMEOUT"`
	CacheDir       string        `env:"MEDILINK_CACHE_DIR"`
}

// NotifyConfig 医生手机推送，AppKey 为空时不启用
type NotifyConfig struct {
	JPushAppKey       string `env:"JPUSH_APP_KEY"`
	JPushMasterSecret string `env:"JPUSH_MASTER_SECRET"`
	JPushEndpoint     string `env:"JPUSH_ENDPOINT"`
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 加载全局配置
	GlobalConfig = FromEnv()
	return nil
}

// FromEnv 从当前进程环境构建配置，缺省值与生产部署一致
func FromEnv() *Config {
	return &Config{
		Addr:          util.GetEnvOr("ADDR", ":8080"),
		Mode:          util.GetEnvOr("MODE", "release"),
		DBDriver:      util.GetEnv("DB_DRIVER"),
		DSN:           util.GetEnv("DSN"),
		APIPrefix:     util.GetEnvOr("API_PREFIX", "/api"),
		AuthPrefix:    util.GetEnvOr("AUTH_PREFIX", "/auth"),
		SessionSecret: util.GetEnvOr("SESSION_SECRET", "medilink-dev-session"),
		JWTSecret:     util.GetEnvOr("JWT_SECRET", "medilink-dev-jwt"),
		TokenTTL:      util.GetDurationEnv("TOKEN_TTL", 12*time.Hour),
		DefaultLang:   util.GetEnvOr("DEFAULT_LANG", "en"),
		GeoIPPath:     util.GetEnv("GEOIP_PATH"),
		SearchIndex:   util.GetEnv("SEARCH_INDEX_PATH"),
		Log: logger.LogConfig{
			Level:      util.GetEnv("LOG_LEVEL"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
			Console:    util.GetBoolEnv("LOG_CONSOLE"),
		},
		Cache: cache.Config{
			Type: util.GetEnvOr("CACHE_TYPE", "gocache"),
			Redis: cache.RedisConfig{
				Addr:         util.GetEnvOr("REDIS_ADDR", "localhost:6379"),
				Password:     util.GetEnv("REDIS_PASSWORD"),
				DB:           int(util.GetIntEnv("REDIS_DB")),
				PoolSize:     int(util.GetIntEnv("REDIS_POOL_SIZE")),
				MinIdleConns: int(util.GetIntEnv("REDIS_MIN_IDLE_CONNS")),
				DialTimeout:  util.GetDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
				ReadTimeout:  util.GetDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
				WriteTimeout: util.GetDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
			},
			Local: cache.LocalConfig{
				MaxSize:           orInt(int(util.GetIntEnv("LOCAL_CACHE_MAX_SIZE")), 1000),
				DefaultExpiration: util.GetDurationEnv("LOCAL_CACHE_DEFAULT_EXPIRATION", 5*time.Minute),
				CleanupInterval:   util.GetDurationEnv("LOCAL_CACHE_CLEANUP_INTERVAL", 10*time.Minute),
			},
		},
		Alert: AlertConfig{
			CountdownTicks:    orInt(int(util.GetIntEnv("ALERT_COUNTDOWN_TICKS")), 5),
			TickInterval:      util.GetDurationEnv("ALERT_TICK_INTERVAL", time.Second),
			GeoTimeout:        util.GetDurationEnv("ALERT_GEO_TIMEOUT", 8*time.Second),
			GeoMaxAge:         util.GetDurationEnv("ALERT_GEO_MAX_AGE", 5*time.Minute),
			EmergencyNumber:   util.GetEnvOr("ALERT_EMERGENCY_NUMBER", "911"),
			PollInterval:      util.GetDurationEnv("ALERT_POLL_INTERVAL", 5*time.Second),
			BadgePollInterval: util.GetDurationEnv("ALERT_BADGE_POLL_INTERVAL", 30*time.Second),
		},
		Lockout: LockoutConfig{
			MaxAttempts: orInt(int(util.GetIntEnv("LOCKOUT_MAX_ATTEMPTS")), 5),
			Window:      util.GetDurationEnv("LOCKOUT_WINDOW", 15*time.Minute),
			Duration:    util.GetDurationEnv("LOCKOUT_DURATION", 15*time.Minute),
		},
		Limits: LimitConfig{
			SubmitRate: util.GetEnvOr("RATE_ALERT_SUBMIT", "10-M"),
			LoginRate:  util.GetEnvOr("RATE_LOGIN", "20-M"),
			GlobalRate: util.GetEnvOr("RATE_GLOBAL", "600-M"),
		},
		Backup: BackupConfig{
			Enabled:  util.GetBoolEnv("BACKUP_ENABLED"),
			Path:     util.GetEnvOr("BACKUP_PATH", "backups"),
			Schedule: util.GetEnvOr("BACKUP_SCHEDULE", "@daily"),
			Upload:   util.GetBoolEnv("BACKUP_UPLOAD"),
		},
		Client: ClientConfig{
			BaseURL:        util.GetEnvOr("MEDILINK_BASE_URL", "http://localhost:8080"),
			RequestTimeout: util.GetDurationEnv("MEDILINK_REQUEST_TIMEOUT", 10*time.Second),
			CacheDir:       util.GetEnv("MEDILINK_CACHE_DIR"),
		},
		Notify: NotifyConfig{
			JPushAppKey:       util.GetEnv("JPUSH_APP_KEY"),
			JPushMasterSecret: util.GetEnv("JPUSH_MASTER_SECRET"),
			JPushEndpoint:     util.GetEnv("JPUSH_ENDPOINT"),
		},
	}
}

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
