package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 工时审批状态流转计数
	ApprovalTransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timesheet_approval_transition_total",
			Help: "Total number of timesheet approval transitions",
		},
		[]string{"transition"}, // transition: submit, resubmit, approve, reject
	)

	// 审批操作被拒绝计数（按错误类型）
	ApprovalRejectedOpCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timesheet_approval_refused_total",
			Help: "Total number of refused workflow operations by error kind",
		},
		[]string{"operation", "kind"},
	)

	// 统计计算延迟（秒）
	AnalyticsComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analytics_compute_duration_seconds",
			Help:    "Analytics computation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"engine", "cache"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of queries slower than the configured threshold",
		},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "queue"},
	)

	// Outbox 事件发布计数
	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Total number of outbox events published",
		},
		[]string{"status"}, // status: sent, failed, breaker_open
	)

	// 熔断器当前状态：0 closed, 1 open, 2 half_open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0 closed, 1 open, 2 half_open)",
		},
		[]string{"name"},
	)

	// 熔断器状态变化计数
	CircuitBreakerTransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transition_total",
			Help: "Total number of circuit breaker state changes",
		},
		[]string{"name", "to"},
	)
)

// IncrementApprovalTransition 增加审批状态流转计数
func IncrementApprovalTransition(transition string) {
	ApprovalTransitionCount.WithLabelValues(transition).Inc()
}

// IncrementApprovalRefused 增加被拒绝的审批操作计数
func IncrementApprovalRefused(operation, kind string) {
	ApprovalRejectedOpCount.WithLabelValues(operation, kind).Inc()
}

// RecordAnalyticsCompute 记录统计计算耗时
func RecordAnalyticsCompute(engine string, cacheHit bool, duration time.Duration) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	AnalyticsComputeDuration.WithLabelValues(engine, cache).Observe(duration.Seconds())
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// IncrementOutboxPublish 增加 outbox 发布计数
func IncrementOutboxPublish(status string) {
	OutboxPublishCount.WithLabelValues(status).Inc()
}

// RecordCircuitBreakerState 记录熔断器状态变化
func RecordCircuitBreakerState(name string, state int, stateName string) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	CircuitBreakerTransitionCount.WithLabelValues(name, stateName).Inc()
}
