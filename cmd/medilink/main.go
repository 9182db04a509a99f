package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	handlers "MediLink/internal/handler"
	"MediLink/internal/hospital"
	"MediLink/internal/models"
	"MediLink/pkg/auth"
	"MediLink/pkg/backup"
	"MediLink/pkg/cache"
	"MediLink/pkg/config"
	"MediLink/pkg/i18n"
	"MediLink/pkg/logger"
	"MediLink/pkg/metrics"
	"MediLink/pkg/middleware"
	"MediLink/pkg/notification"
	"MediLink/pkg/scheduler"
	"MediLink/pkg/search"
	"MediLink/pkg/storage"
	"MediLink/pkg/util"
	"MediLink/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// 1. 配置与日志
	if err := config.Load(); err != nil {
		panic(err)
	}
	cfg := config.GlobalConfig
	if err := logger.Init(cfg.Log); err != nil {
		panic(err)
	}
	defer logger.Sync()
	gin.SetMode(cfg.Mode)

	// 2. 数据库
	dsn := cfg.DSN
	if dsn == "" && cfg.DBDriver == "" {
		dsn = "medilink.db"
	}
	db, err := util.InitDatabase(util.DBOptions{Driver: cfg.DBDriver, DSN: dsn})
	if err != nil {
		logger.Error("database init failed", zap.Error(err))
		os.Exit(1)
	}
	if err := models.Migrate(db, &middleware.AuditLog{}); err != nil {
		logger.Error("migrate failed", zap.Error(err))
		os.Exit(1)
	}

	// 3. 缓存、指标、推送
	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		logger.Error("cache init failed", zap.Error(err))
		os.Exit(1)
	}
	defer c.Close()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	metrics.SetDefault(m)
	monitor := metrics.NewSystemMonitor(m, 15*time.Second)
	monitor.Start()
	defer monitor.Stop()

	hub := websocket.NewHub(websocket.LoadConfigFromEnv())
	hub.SetMetrics(m)
	defer hub.Close()

	// 4. 医院检索
	idx, err := search.New(search.Config{IndexPath: cfg.SearchIndex, QueryTimeout: 2 * time.Second}, search.BuildIndexMapping(""))
	if err != nil {
		logger.Error("search index init failed", zap.Error(err))
		os.Exit(1)
	}
	defer idx.Close()
	locator := hospital.NewLocator(db, idx)
	if n, err := locator.Reindex(context.Background()); err != nil {
		logger.Warn("hospital reindex failed", zap.Error(err))
	} else {
		logger.Info("hospital index ready", zap.Int("hospitals", n))
	}

	// 5. 定时备份
	cr := scheduler.NewCron(time.Local)
	if cfg.Backup.Enabled {
		var store storage.Store
		if cfg.Backup.Upload {
			// Endpoint 为空时返回 nil, nil，只留本地快照
			if ms, err := storage.NewMinioStore(storage.MinioConfigFromEnv()); err != nil {
				logger.Warn("minio unavailable, keeping local backups only", zap.Error(err))
			} else if ms != nil {
				store = ms
			}
		}
		b := backup.New(db, backup.Options{Driver: cfg.DBDriver, Dir: cfg.Backup.Path, Schedule: cfg.Backup.Schedule}, store)
		if err := b.Start(cr); err != nil {
			logger.Warn("backup schedule rejected", zap.String("schedule", cfg.Backup.Schedule), zap.Error(err))
		}
	}
	cr.Start()
	defer cr.Stop()

	// 6. 审计日志的 IP 归属地，可选
	var geoip middleware.GeoLocator
	if cfg.GeoIPPath != "" {
		g, err := middleware.OpenGeoIP(cfg.GeoIPPath)
		if err != nil {
			logger.Warn("geoip database unavailable", zap.Error(err))
		} else {
			defer g.Close()
			geoip = g
		}
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate: cfg.Limits.GlobalRate,
		PerRouteRates: map[string]string{
			cfg.APIPrefix + "/alerts":                 cfg.Limits.SubmitRate,
			cfg.APIPrefix + cfg.AuthPrefix + "/login": cfg.Limits.LoginRate,
		},
		Identifier: "ip+route",
		SkipPaths:  []string{cfg.APIPrefix + "/system/health", "/metrics", websocket.RouteWebSocket},
		AddHeaders: true,
	}, nil).WithObserver(middleware.NewPrometheusObserver(prometheus.DefaultRegisterer))

	dispatcher := notification.NewDispatcher(notification.NewJPush(notification.JPushConfig{
		AppKey:       cfg.Notify.JPushAppKey,
		MasterSecret: cfg.Notify.JPushMasterSecret,
		Endpoint:     cfg.Notify.JPushEndpoint,
	}, nil))

	i18nSupport, err := i18n.NewI18nSupport(cfg.DefaultLang)
	if err != nil {
		logger.Warn("i18n init failed, using defaults", zap.Error(err))
		i18nSupport = i18n.Default()
	}

	// 7. 路由
	h := handlers.NewHandlers(db, handlers.Options{
		Config:   cfg,
		Hub:      hub,
		Tokens:   auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL),
		Locator:  locator,
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
		Monitor:  monitor,
		I18n:     i18nSupport,
		Cache:    c,
		Limiter:  limiter,
		GeoIP:    geoip,
		Notifier: dispatcher,
	})
	engine := gin.New()
	engine.Use(gin.Recovery())
	h.Register(engine)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("medilink listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", zap.Error(err))
			stop <- syscall.SIGTERM
		}
	}()

	<-stop
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
