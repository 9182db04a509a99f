package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordAlertSubmitted("CARDIAC", "CRITICAL", true)
	m.RecordAlertSubmitted("CARDIAC", "CRITICAL", true)
	m.RecordAlertResponse("RESPONDING", "duplicate")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.alertsSubmitted.WithLabelValues("CARDIAC", "CRITICAL", "guest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertResponses.WithLabelValues("RESPONDING", "duplicate")))
}

func TestLoginFailureCountsLockout(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLoginFailure(false)
	m.RecordLoginFailure(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.loginFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockouts))
}

func TestHTTPMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	r := gin.New()
	r.Use(HTTPMiddleware(m))
	r.GET("/api/alerts/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", Handler(reg))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/alerts/abc", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `path="/api/alerts/:id"`))
}

func TestSystemMonitorCollect(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	sm := NewSystemMonitor(m, time.Hour)

	stats := sm.GetLatestStats()
	require.NotNil(t, stats)
	assert.Greater(t, stats.Goroutines, 0)
	assert.Equal(t, float64(stats.Goroutines), testutil.ToFloat64(m.systemGoroutines))

	sm.Start()
	sm.Stop()
	sm.Stop()
}
