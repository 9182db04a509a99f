package handlers

import (
	"MediLink/internal/hospital"
	"MediLink/internal/models"
	"MediLink/pkg/auth"
	"MediLink/pkg/cache"
	"MediLink/pkg/config"
	"MediLink/pkg/constant"
	"MediLink/pkg/i18n"
	"MediLink/pkg/metrics"
	"MediLink/pkg/middleware"
	"MediLink/pkg/notification"
	"MediLink/pkg/websocket"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Options 处理器依赖；除 DB 与 Config 外均可为空
type Options struct {
	Config   *config.Config
	Hub      *websocket.Hub
	Tokens   *auth.TokenService
	Guard    *models.LoginGuard
	Locator  *hospital.Locator
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Monitor  *metrics.SystemMonitor
	I18n     *i18n.I18nSupport
	Cache    cache.Cache
	Limiter  *middleware.RateLimiter
	GeoIP    middleware.GeoLocator
	// Notifier 离线医生的手机推送
	Notifier *notification.Dispatcher
}

type Handlers struct {
	db       *gorm.DB
	cfg      *config.Config
	hub      *websocket.Hub
	tokens   *auth.TokenService
	guard    *models.LoginGuard
	locator  *hospital.Locator
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	monitor  *metrics.SystemMonitor
	i18n     *i18n.I18nSupport
	cache    cache.Cache
	limiter  *middleware.RateLimiter
	geoip    middleware.GeoLocator
	notifier *notification.Dispatcher
}

func NewHandlers(db *gorm.DB, opts Options) *Handlers {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.FromEnv()
	}
	h := &Handlers{
		db:       db,
		cfg:      cfg,
		hub:      opts.Hub,
		tokens:   opts.Tokens,
		guard:    opts.Guard,
		locator:  opts.Locator,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		monitor:  opts.Monitor,
		i18n:     opts.I18n,
		cache:    opts.Cache,
		limiter:  opts.Limiter,
		geoip:    opts.GeoIP,
		notifier: opts.Notifier,
	}
	if h.tokens == nil {
		h.tokens = auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	}
	if h.i18n == nil {
		h.i18n = i18n.Default()
	}
	if h.metrics == nil {
		h.metrics = metrics.Default()
	}
	if h.cache == nil {
		h.cache = cache.NewGoCache(cfg.Cache.Local)
	}
	if h.guard == nil {
		h.guard = models.NewLoginGuard(h.cache, cfg.Lockout)
	}
	return h
}

func (h *Handlers) Register(engine *gin.Engine) {
	store := cookie.NewStore([]byte(h.cfg.SessionSecret))
	store.Options(sessions.Options{Path: "/", MaxAge: int(h.cfg.TokenTTL.Seconds()), HttpOnly: true})
	engine.Use(sessions.Sessions("medilink", store))
	engine.Use(metrics.HTTPMiddleware(h.metrics))

	withAuth := models.WithAuth(h.db, h.tokens)

	r := engine.Group(h.cfg.APIPrefix)

	// Register Global Singleton DB
	r.Use(middleware.InjectDB(h.db))
	r.Use(middleware.LanguageMiddleware(h.i18n))
	r.Use(withAuth)
	if h.limiter != nil {
		r.Use(h.limiter.Middleware())
	}
	r.Use(middleware.AuditMiddleware(h.db, h.geoip))

	// Register System Module Routes
	h.registerSystemRoutes(r)

	// Register Business Module Routes
	h.registerAuthRoutes(r)
	h.registerAlertRoutes(r)
	h.registerHospitalRoutes(r)

	// 推送通道走查询参数里的令牌
	if h.hub != nil {
		websocket.RegisterRoutes(engine, websocket.NewHandler(h.hub), withAuth)
	}
	engine.GET("/metrics", metrics.Handler(h.gatherer))
}

// User Module
func (h *Handlers) registerAuthRoutes(r *gin.RouterGroup) {
	authGroup := r.Group(h.cfg.AuthPrefix)
	{
		authGroup.POST("/register", h.handleRegister)

		authGroup.POST("/login", h.handleLogin)

		authGroup.POST("/logout", h.handleLogout)

		authGroup.GET("/me", models.AuthRequired, h.handleMe)
	}
}

func (h *Handlers) registerAlertRoutes(r *gin.RouterGroup) {
	alerts := r.Group("alerts")
	idem := middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{Cache: h.cache})
	doctor := models.RoleRequired(constant.RoleDoctor)
	{
		// 访客也能提交
		alerts.POST("", idem, h.handleSubmitAlert)

		alerts.GET("", doctor, h.handleListAlerts)

		alerts.GET("/unread-count", doctor, h.handleUnreadCount)

		alerts.GET("/:id", models.AuthRequired, h.handleGetAlert)

		alerts.POST("/:id/respond", doctor, idem, h.handleRespond)

		alerts.POST("/:id/read", doctor, h.handleMarkRead)

		alerts.PUT("/:id/status", models.RoleRequired(constant.RoleAdmin), h.handleUpdateStatus)
	}
}

func (h *Handlers) registerHospitalRoutes(r *gin.RouterGroup) {
	hospitals := r.Group("hospitals")
	{
		hospitals.GET("", h.handleSearchHospitals)

		hospitals.GET("/suggest", h.handleSuggestHospitals)

		hospitals.POST("", models.RoleRequired(constant.RoleAdmin), h.handleCreateHospital)
	}
}

func (h *Handlers) registerSystemRoutes(r *gin.RouterGroup) {
	system := r.Group("system")
	{
		system.GET("/health", h.HealthCheck)

		system.GET("/stats", models.RoleRequired(constant.RoleAdmin), h.SystemStats)

		system.GET("/rate-limiter/config", models.RoleRequired(constant.RoleAdmin), h.GetRateLimiterConfig)

		system.POST("/rate-limiter/config", models.RoleRequired(constant.RoleAdmin), h.UpdateRateLimiterConfig)
	}
}
