package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 指标管理器
type Metrics struct {
	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 警报指标
	alertsSubmitted   *prometheus.CounterVec
	alertResponses    *prometheus.CounterVec
	alertStatusChange *prometheus.CounterVec
	alertTimeToFirst  prometheus.Histogram

	// 推送通道指标
	pushConnections prometheus.Gauge
	pushMessages    *prometheus.CounterVec
	pushDropped     prometheus.Counter

	// 登录
	loginFailures prometheus.Counter
	lockouts      prometheus.Counter

	// 系统指标
	systemMemoryUsage *prometheus.GaugeVec
	systemCPUUsage    prometheus.Gauge
	systemGoroutines  prometheus.Gauge
}

// NewMetrics 创建指标管理器，reg 为 nil 时使用默认注册表
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		alertsSubmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medilink_alerts_submitted_total",
				Help: "Emergency alerts accepted by the backend",
			},
			[]string{"type", "urgency", "requester"},
		),
		alertResponses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medilink_alert_responses_total",
				Help: "Doctor responses by type and outcome",
			},
			[]string{"response_type", "outcome"},
		),
		alertStatusChange: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medilink_alert_status_changes_total",
				Help: "Alert status transitions",
			},
			[]string{"status"},
		),
		alertTimeToFirst: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "medilink_alert_first_response_seconds",
				Help:    "Time from alert creation to the first doctor response",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),

		pushConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "medilink_push_connections",
			Help: "Open doctor push connections",
		}),
		pushMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medilink_push_messages_total",
				Help: "Messages fanned out over the push channel",
			},
			[]string{"type"},
		),
		pushDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "medilink_push_dropped_total",
			Help: "Push messages dropped on full send buffers",
		}),

		loginFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "medilink_login_failures_total",
			Help: "Failed login attempts",
		}),
		lockouts: f.NewCounter(prometheus.CounterOpts{
			Name: "medilink_login_lockouts_total",
			Help: "Accounts locked after repeated failures",
		}),

		systemMemoryUsage: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "system_memory_usage_bytes",
				Help: "System memory usage in bytes",
			},
			[]string{"type"},
		),
		systemCPUUsage: f.NewGauge(prometheus.GaugeOpts{
			Name: "system_cpu_usage_percent",
			Help: "System CPU usage percentage",
		}),
		systemGoroutines: f.NewGauge(prometheus.GaugeOpts{
			Name: "system_goroutines",
			Help: "Number of goroutines",
		}),
	}
}

// RecordHTTPRequest 记录HTTP请求指标
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAlertSubmitted 记录新警报
func (m *Metrics) RecordAlertSubmitted(alertType, urgency string, guest bool) {
	requester := "user"
	if guest {
		requester = "guest"
	}
	m.alertsSubmitted.WithLabelValues(alertType, urgency, requester).Inc()
}

// RecordAlertResponse 记录医生响应；outcome 为 accepted / duplicate / stale
func (m *Metrics) RecordAlertResponse(responseType, outcome string) {
	m.alertResponses.WithLabelValues(responseType, outcome).Inc()
}

// ObserveFirstResponse 记录首次响应耗时
func (m *Metrics) ObserveFirstResponse(d time.Duration) {
	m.alertTimeToFirst.Observe(d.Seconds())
}

// RecordStatusChange 记录状态变更
func (m *Metrics) RecordStatusChange(status string) {
	m.alertStatusChange.WithLabelValues(status).Inc()
}

// SetPushConnections 设置推送连接数
func (m *Metrics) SetPushConnections(n int64) {
	m.pushConnections.Set(float64(n))
}

// RecordPushMessage 记录推送消息
func (m *Metrics) RecordPushMessage(msgType string) {
	m.pushMessages.WithLabelValues(msgType).Inc()
}

// RecordPushDropped 记录丢弃的推送
func (m *Metrics) RecordPushDropped() {
	m.pushDropped.Inc()
}

// RecordLoginFailure 记录登录失败，locked 表示本次失败触发了锁定
func (m *Metrics) RecordLoginFailure(locked bool) {
	m.loginFailures.Inc()
	if locked {
		m.lockouts.Inc()
	}
}

// SetSystemMemoryUsage 设置系统内存使用量
func (m *Metrics) SetSystemMemoryUsage(memoryType string, bytes uint64) {
	m.systemMemoryUsage.WithLabelValues(memoryType).Set(float64(bytes))
}

// SetSystemCPUUsage 设置系统CPU使用率
func (m *Metrics) SetSystemCPUUsage(percentage float64) {
	m.systemCPUUsage.Set(percentage)
}

// SetSystemGoroutines 设置goroutine数量
func (m *Metrics) SetSystemGoroutines(count int) {
	m.systemGoroutines.Set(float64(count))
}

// Reset 重置所有带标签的指标
func (m *Metrics) Reset() {
	m.httpRequestsTotal.Reset()
	m.httpRequestDuration.Reset()
	m.alertsSubmitted.Reset()
	m.alertResponses.Reset()
	m.alertStatusChange.Reset()
	m.pushMessages.Reset()
	m.systemMemoryUsage.Reset()
}
