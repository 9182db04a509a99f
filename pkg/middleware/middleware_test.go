package middleware

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"MediLink/pkg/cache"
	"MediLink/pkg/constant"
	"MediLink/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestCache(t *testing.T) cache.Cache {
	c, err := cache.NewCache(cache.Config{Type: "gocache", Local: cache.LocalConfig{DefaultExpiration: time.Minute, CleanupInterval: time.Minute}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func doRequest(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	var calls int32
	r := gin.New()
	r.Use(IdempotencyMiddleware(IdempotencyConfig{Cache: newTestCache(t), TTL: time.Minute}))
	r.POST("/api/alerts", func(c *gin.Context) {
		n := atomic.AddInt32(&calls, 1)
		c.JSON(http.StatusCreated, gin.H{"n": n})
	})

	h := map[string]string{constant.HeaderIdempotencyKey: "k-1"}
	first := doRequest(r, http.MethodPost, "/api/alerts", h)
	second := doRequest(r, http.MethodPost, "/api/alerts", h)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// 不同键正常处理
	third := doRequest(r, http.MethodPost, "/api/alerts", map[string]string{constant.HeaderIdempotencyKey: "k-2"})
	assert.Equal(t, http.StatusCreated, third.Code)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestIdempotencyWithoutKeyPassesThrough(t *testing.T) {
	var calls int32
	r := gin.New()
	r.Use(IdempotencyMiddleware(IdempotencyConfig{Cache: newTestCache(t)}))
	r.POST("/x", func(c *gin.Context) {
		atomic.AddInt32(&calls, 1)
		c.Status(http.StatusNoContent)
	})
	doRequest(r, http.MethodPost, "/x", nil)
	doRequest(r, http.MethodPost, "/x", nil)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestIdempotencyServerErrorReleasesKey(t *testing.T) {
	var calls int32
	r := gin.New()
	r.Use(IdempotencyMiddleware(IdempotencyConfig{Cache: newTestCache(t)}))
	r.POST("/x", func(c *gin.Context) {
		if atomic.AddInt32(&calls, 1) == 1 {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusCreated)
	})
	h := map[string]string{constant.HeaderIdempotencyKey: "retry"}
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(r, http.MethodPost, "/x", h).Code)
	assert.Equal(t, http.StatusCreated, doRequest(r, http.MethodPost, "/x", h).Code)
}

func TestIdempotencyPendingConflict(t *testing.T) {
	c := newTestCache(t)
	r := gin.New()
	r.Use(IdempotencyMiddleware(IdempotencyConfig{Cache: c}))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusCreated) })

	key := constant.CacheKeyIdempotency + "anon:192.0.2.1:POST/x:busy"
	require.NoError(t, cache.SetJSON(context.Background(), c, key, idemRecord{Pending: true}, time.Minute))

	w := doRequest(r, http.MethodPost, "/x", map[string]string{constant.HeaderIdempotencyKey: "busy"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLanguageMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(LanguageMiddleware(nil))
	r.GET("/lang", func(c *gin.Context) { c.String(http.StatusOK, Lang(c)) })

	assert.Equal(t, "en", doRequest(r, http.MethodGet, "/lang", nil).Body.String())
	assert.Equal(t, "zh", doRequest(r, http.MethodGet, "/lang?lang=zh-CN", nil).Body.String())
	assert.Equal(t, "es", doRequest(r, http.MethodGet, "/lang", map[string]string{constant.HeaderAcceptLanguage: "es-MX,es;q=0.9"}).Body.String())
	assert.Equal(t, "en", doRequest(r, http.MethodGet, "/lang?lang=xx", nil).Body.String())
}

func TestRateLimiterPerRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPrometheusObserver(reg)
	rl := NewRateLimiter(RateLimiterConfig{
		Rate:          "100-M",
		PerRouteRates: map[string]string{"/api/alerts": "2-M"},
		Identifier:    "ip+route",
		AddHeaders:    true,
	}, nil).WithObserver(obs)

	r := gin.New()
	r.Use(rl.Middleware())
	r.POST("/api/alerts", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.GET("/api/alerts", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusCreated, doRequest(r, http.MethodPost, "/api/alerts", nil).Code)
	assert.Equal(t, http.StatusCreated, doRequest(r, http.MethodPost, "/api/alerts", nil).Code)
	denied := doRequest(r, http.MethodPost, "/api/alerts", nil)
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.NotEmpty(t, denied.Header().Get(constant.HeaderRetryAfter))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.deny.WithLabelValues("/api/alerts")))
}

func TestRateLimiterLists(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: "1-M", SkipPaths: []string{"/metrics"}}, nil)
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doRequest(r, http.MethodGet, "/metrics", nil).Code)
	}

	cfg := rl.Config()
	cfg.BlacklistCIDRs = []string{"192.0.2.0/24"}
	rl.UpdateConfig(cfg)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(r, http.MethodGet, "/x", nil).Code)

	cfg.BlacklistCIDRs = nil
	cfg.WhitelistCIDRs = []string{"192.0.2.1/32"}
	rl.UpdateConfig(cfg)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doRequest(r, http.MethodGet, "/x", nil).Code)
	}
}

type staticGeo string

func (s staticGeo) City(_ net.IP) string { return string(s) }

func TestAuditMiddlewareRecordsWrites(t *testing.T) {
	db, err := util.InitDatabase(util.DBOptions{DSN: "file:audit_test?mode=memory&cache=shared"})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&AuditLog{}))

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(constant.UserIDField, "u-1")
		c.Set(constant.RoleField, constant.RoleDoctor)
		c.Next()
	})
	r.Use(AuditMiddleware(db, staticGeo("Springfield")))
	r.GET("/api/alerts", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/alerts/:id/responses", func(c *gin.Context) { c.Status(http.StatusCreated) })

	doRequest(r, http.MethodGet, "/api/alerts", nil)
	doRequest(r, http.MethodPost, "/api/alerts/a1/responses", map[string]string{
		"User-Agent": "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	})

	var logs []AuditLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "/api/alerts/:id/responses", logs[0].Target)
	assert.Equal(t, http.StatusCreated, logs[0].Status)
	assert.Equal(t, "u-1", logs[0].UserID)
	assert.Equal(t, "Springfield", logs[0].Location)
	assert.Contains(t, logs[0].Browser, "Chrome")
}

func TestOpenGeoIPEmptyPath(t *testing.T) {
	g, err := OpenGeoIP("")
	assert.NoError(t, err)
	assert.Nil(t, g)
	assert.Equal(t, "", g.City(nil))
	assert.NoError(t, g.Close())
}
