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

	// 实时链路指标
	sessionsConnected prometheus.Gauge
	messagesDropped   prometheus.Counter

	// 业务指标
	locationFixesTotal  prometheus.Counter
	alertsCreatedTotal  *prometheus.CounterVec
	transitionsTotal    *prometheus.CounterVec
	transitionsRejected *prometheus.CounterVec
	escalationsTotal    *prometheus.CounterVec
	historyPurgedTotal  prometheus.Counter
}

// NewMetrics 创建指标管理器
func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		sessionsConnected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "realtime_sessions_connected",
				Help: "Number of connected realtime sessions",
			},
		),

		messagesDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "realtime_messages_dropped_total",
				Help: "Total number of outbound messages dropped by backpressure",
			},
		),

		locationFixesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "location_fixes_total",
				Help: "Total number of location fixes ingested",
			},
		),

		alertsCreatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerts_created_total",
				Help: "Total number of panic alerts created",
			},
			[]string{"alert_type"},
		),

		transitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alert_transitions_total",
				Help: "Total number of applied alert status transitions",
			},
			[]string{"to_status"},
		),

		transitionsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alert_transitions_rejected_total",
				Help: "Total number of rejected alert status transitions",
			},
			[]string{"to_status"},
		),

		escalationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alert_escalations_total",
				Help: "Total number of alert escalation deliveries",
			},
			[]string{"result"},
		),

		historyPurgedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "location_history_purged_total",
				Help: "Total number of purged location history rows",
			},
		),
	}
}

// RecordHTTPRequest 记录HTTP请求指标
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetConnectedSessions 更新当前连接会话数
func (m *Metrics) SetConnectedSessions(n int) {
	m.sessionsConnected.Set(float64(n))
}

// IncDroppedMessages 背压丢弃计数
func (m *Metrics) IncDroppedMessages(n int64) {
	m.messagesDropped.Add(float64(n))
}

// IncLocationFix 位置上报计数
func (m *Metrics) IncLocationFix() {
	m.locationFixesTotal.Inc()
}

// IncAlertCreated 警报创建计数
func (m *Metrics) IncAlertCreated(alertType string) {
	m.alertsCreatedTotal.WithLabelValues(alertType).Inc()
}

// IncTransition 状态迁移计数
func (m *Metrics) IncTransition(toStatus string) {
	m.transitionsTotal.WithLabelValues(toStatus).Inc()
}

// IncTransitionRejected 非法迁移计数
func (m *Metrics) IncTransitionRejected(toStatus string) {
	m.transitionsRejected.WithLabelValues(toStatus).Inc()
}

// IncEscalation 升级通报计数，result为ok或failed
func (m *Metrics) IncEscalation(result string) {
	m.escalationsTotal.WithLabelValues(result).Inc()
}

// AddPurgedHistory 轨迹清理计数
func (m *Metrics) AddPurgedHistory(rows int64) {
	m.historyPurgedTotal.Add(float64(rows))
}
