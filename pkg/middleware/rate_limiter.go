package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"MediLink/pkg/constant"
	"MediLink/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimiterConfig 限流配置
//
// 示例：
// Rate: "600-M"、Identifier: "ip"/"user"/"ip+route"
// PerRouteRates: {"/api/alerts": "10-M", "/api/auth/login": "20-M"}
// WhitelistCIDRs/BlacklistCIDRs: ["10.0.0.0/8", "127.0.0.1/32"]
// SkipPaths: ["/api/system/health", "/metrics", "/ws"] 前缀匹配
// AddHeaders: 是否写标准限流响应头；DenyStatus/DenyMessage: 自定义拒绝响应
//
// 警报提交走 ip+route，单个来源刷单不会挤占其他患者的额度。
type RateLimiterConfig struct {
	Rate           string            `json:"rate"`            // e.g. "100-M", "1000-H"
	PerRouteRates  map[string]string `json:"per_route_rates"` // 路由覆盖速率
	Identifier     string            `json:"identifier"`      // ip|user|ip+route
	WhitelistCIDRs []string          `json:"whitelist_cidrs"`
	BlacklistCIDRs []string          `json:"blacklist_cidrs"`
	SkipPaths      []string          `json:"skip_paths"`
	AddHeaders     bool              `json:"add_headers"`
	DenyStatus     int               `json:"deny_status"` // 默认 429
	DenyMessage    string            `json:"deny_message"`
}

// MetricsObserver 指标上报接口
// 可接 Prometheus、StatsD 等
type MetricsObserver interface {
	OnAllow(route string, key string)
	OnDeny(route string, key string)
}

// PrometheusObserver 基于 Prometheus 的实现
type PrometheusObserver struct {
	allow *prometheus.CounterVec
	deny  *prometheus.CounterVec
}

// NewPrometheusObserver 创建 Prometheus 观察者，reg 为 nil 时注册到默认注册表
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusObserver{
		allow: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_allow_total",
			Help: "Allowed requests by rate limiter",
		}, []string{"route"}),
		deny: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_deny_total",
			Help: "Denied requests by rate limiter",
		}, []string{"route"}),
	}
}

func (p *PrometheusObserver) OnAllow(route, key string) { p.allow.WithLabelValues(route).Inc() }
func (p *PrometheusObserver) OnDeny(route, key string)  { p.deny.WithLabelValues(route).Inc() }

// RateLimiter 面向实例的限流器，支持按路由缓存多个 limiter
type RateLimiter struct {
	cfg            *RateLimiterConfig
	store          limiter.Store
	observer       MetricsObserver
	limitersByRate map[string]*limiter.Limiter // rate字符串 -> limiter
	mu             sync.RWMutex
	whiteCIDRs     []*net.IPNet
	blackCIDRs     []*net.IPNet
}

// NewRateLimiter 构造函数；store 为 nil 时使用内存存储
func NewRateLimiter(cfg RateLimiterConfig, store limiter.Store) *RateLimiter {
	if store == nil {
		store = memory.NewStore()
	}
	l := &RateLimiter{
		cfg:            &cfg,
		store:          store,
		limitersByRate: make(map[string]*limiter.Limiter),
	}
	l.compileCIDRs()
	return l
}

// WithObserver 配置指标观察者
func (l *RateLimiter) WithObserver(observer MetricsObserver) *RateLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = observer
	return l
}

// Middleware 返回 Gin 中间件
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, white, black := l.snapshot()

		if pathSkipped(*cfg, c.FullPath(), c.Request.URL.Path) {
			c.Next()
			return
		}

		clientIP := clientIPFromRequest(c)
		if ipListed(clientIP, white) {
			c.Next()
			return
		}
		if ipListed(clientIP, black) {
			l.reportDeny(c, "blacklist")
			denyTooMany(c, *cfg, 0, 0, time.Time{})
			return
		}
		userID := c.GetString(constant.UserIDField)

		key := buildLimitKey(*cfg, c, clientIP, userID)
		rateStr := l.pickRateForRoute(cfg, c)
		lim := l.getLimiter(rateStr)

		// 限流存储故障时放行，不能因此拦下求救请求
		lctx, err := lim.Get(c, key)
		if err != nil {
			c.Next()
			return
		}
		if cfg.AddHeaders {
			setStandardHeaders(c, lctx)
		}
		if lctx.Reached {
			setRetryAfter(c, time.Until(time.Unix(lctx.Reset, 0)))
			l.reportDeny(c, key)
			denyTooMany(c, *cfg, int(lctx.Limit), int(lctx.Remaining), time.Unix(lctx.Reset, 0))
			return
		}

		l.reportAllow(c, key)
		c.Next()
	}
}

func (l *RateLimiter) reportAllow(c *gin.Context, key string) {
	l.mu.RLock()
	obs := l.observer
	l.mu.RUnlock()
	if obs != nil {
		r := c.FullPath()
		if r == "" {
			r = c.Request.URL.Path
		}
		obs.OnAllow(r, key)
	}
}

func (l *RateLimiter) reportDeny(c *gin.Context, key string) {
	l.mu.RLock()
	obs := l.observer
	l.mu.RUnlock()
	if obs != nil {
		r := c.FullPath()
		if r == "" {
			r = c.Request.URL.Path
		}
		obs.OnDeny(r, key)
	}
}

func (l *RateLimiter) getLimiter(rateStr string) *limiter.Limiter {
	l.mu.RLock()
	lim, ok := l.limitersByRate[rateStr]
	l.mu.RUnlock()
	if ok {
		return lim
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.limitersByRate[rateStr]; ok {
		return lim
	}
	store := l.store
	r, err := limiter.NewRateFromFormatted(rateStr)
	if err != nil {
		r = limiter.Rate{Period: time.Second, Limit: 10}
	}
	lim = limiter.New(store, r)
	l.limitersByRate[rateStr] = lim
	return lim
}

func (l *RateLimiter) pickRateForRoute(cfg *RateLimiterConfig, c *gin.Context) string {
	if cfg.PerRouteRates != nil {
		if full := c.FullPath(); full != "" {
			if r, ok := cfg.PerRouteRates[full]; ok && r != "" {
				return r
			}
		}
		if raw := c.Request.URL.Path; raw != "" {
			if r, ok := cfg.PerRouteRates[raw]; ok && r != "" {
				return r
			}
		}
	}
	if cfg.Rate != "" {
		return cfg.Rate
	}
	return "10-S"
}

func (l *RateLimiter) snapshot() (*RateLimiterConfig, []*net.IPNet, []*net.IPNet) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg, l.whiteCIDRs, l.blackCIDRs
}

// Config 返回当前配置的拷贝
func (l *RateLimiter) Config() RateLimiterConfig {
	cfg, _, _ := l.snapshot()
	return *cfg
}

func (l *RateLimiter) UpdateConfig(cfg RateLimiterConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = &cfg
	l.compileCIDRs()
}

// compileCIDRs 每次生成新切片，正在处理的请求继续使用旧快照
func (l *RateLimiter) compileCIDRs() {
	l.whiteCIDRs = parseCIDRs(l.cfg.WhitelistCIDRs)
	l.blackCIDRs = parseCIDRs(l.cfg.BlacklistCIDRs)
}

func parseCIDRs(list []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(list))
	for _, c := range list {
		if _, ipnet, err := net.ParseCIDR(strings.TrimSpace(c)); err == nil {
			out = append(out, ipnet)
		}
	}
	return out
}

func pathSkipped(cfg RateLimiterConfig, fullPath, rawPath string) bool {
	if len(cfg.SkipPaths) == 0 {
		return false
	}
	p := fullPath
	if p == "" {
		p = rawPath
	}
	for _, pref := range cfg.SkipPaths {
		if pref == "" {
			continue
		}
		if strings.HasPrefix(p, pref) {
			return true
		}
	}
	return false
}

func clientIPFromRequest(c *gin.Context) string {
	ip := c.ClientIP()
	if strings.HasPrefix(ip, "::ffff:") {
		ip = strings.TrimPrefix(ip, "::ffff:")
	}
	return ip
}

func ipListed(ip string, nets []*net.IPNet) bool {
	if ip == "" {
		return false
	}
	pip := net.ParseIP(ip)
	if pip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(pip) {
			return true
		}
	}
	return false
}

func buildLimitKey(cfg RateLimiterConfig, c *gin.Context, ip, user string) string {
	switch cfg.Identifier {
	case "user":
		if user != "" {
			return "user:" + user
		}
		return "ip:" + ip
	case "ip+route":
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		return "iprt:" + ip + ":" + route
	default: // ip
		return "ip:" + ip
	}
}

func setStandardHeaders(c *gin.Context, ctx limiter.Context) {
	c.Header("X-RateLimit-Limit", int64ToString(ctx.Limit))
	c.Header("X-RateLimit-Remaining", int64ToString(ctx.Remaining))
	resetSec := int(time.Until(time.Unix(ctx.Reset, 0)).Seconds())
	if resetSec < 0 {
		resetSec = 0
	}
	c.Header("X-RateLimit-Reset", strconv.Itoa(resetSec))
}

func setRetryAfter(c *gin.Context, d time.Duration) {
	sec := int(d.Seconds())
	if sec < 0 {
		sec = 0
	}
	c.Header(constant.HeaderRetryAfter, strconv.Itoa(sec))
}

func int64ToString(v int64) string {
	return strconv.FormatInt(v, 10)
}

func denyTooMany(c *gin.Context, cfg RateLimiterConfig, limit, remaining int, reset time.Time) {
	status := cfg.DenyStatus
	if status == 0 {
		status = http.StatusTooManyRequests
	}
	msg := cfg.DenyMessage
	if msg == "" {
		msg = "Too Many Requests"
	}
	c.AbortWithStatusJSON(status, response.Body{Code: status, Message: msg, Data: gin.H{"limit": limit, "remaining": remaining, "reset": reset.Unix()}})
}
