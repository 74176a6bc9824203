// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。nil *Collector 的所有方法都是空操作。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 循环指标
	cyclesTotal     *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	cyclesCompleted prometheus.Gauge
	loopRunning     prometheus.Gauge
	recoveryMode    prometheus.Gauge

	// Handler 指标
	handlerExecutionsTotal   *prometheus.CounterVec
	handlerExecutionDuration *prometheus.HistogramVec
	handlerStatusTransitions *prometheus.CounterVec
	handoffsTotal            *prometheus.CounterVec

	// 聊天总线指标
	chatMessagesTotal *prometheus.CounterVec
	chatDroppedTotal  prometheus.Counter

	// 持久化指标
	persistenceErrors *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到 reg（nil 表示默认注册表）
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 循环指标
	c.cyclesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_cycles_total",
			Help:      "Total number of loop cycles by outcome",
		},
		[]string{"outcome"},
	)

	c.cycleDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_cycle_duration_seconds",
			Help:      "Loop cycle duration in seconds, hand-off included",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	c.cyclesCompleted = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_cycles_completed",
			Help:      "Cycles completed in the current run",
		},
	)

	c.loopRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_running",
			Help:      "1 while the loop is running",
		},
	)

	c.recoveryMode = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_recovery_mode",
			Help:      "1 while the loop is in recovery mode",
		},
	)

	// Handler 指标
	c.handlerExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_executions_total",
			Help:      "Total number of handler executions",
		},
		[]string{"handler", "status"},
	)

	c.handlerExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_execution_duration_seconds",
			Help:      "Handler execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"handler"},
	)

	c.handlerStatusTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_status_transitions_total",
			Help:      "Total number of handler status transitions",
		},
		[]string{"handler", "from", "to"},
	)

	c.handoffsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Total number of hand-offs offered to a target",
		},
		[]string{"from", "to", "status"},
	)

	// 聊天总线指标
	c.chatMessagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Total number of chat messages published",
		},
		[]string{"kind"},
	)

	c.chatDroppedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_deliveries_dropped_total",
			Help:      "Deliveries skipped because a subscriber mailbox was full",
		},
	)

	// 持久化指标
	c.persistenceErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Total number of failed state store operations",
		},
		[]string{"operation"},
	)

	c.logger.Debug("metrics collector registered", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔁 循环指标记录
// =============================================================================

// RecordCycle 记录一个完成的 cycle
func (c *Collector) RecordCycle(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.cyclesTotal.WithLabelValues(outcome).Inc()
	c.cycleDuration.Observe(duration.Seconds())
}

// SetCyclesCompleted 设置当前运行已完成的 cycle 数
func (c *Collector) SetCyclesCompleted(n int64) {
	if c == nil {
		return
	}
	c.cyclesCompleted.Set(float64(n))
}

// SetRunning 设置循环运行状态
func (c *Collector) SetRunning(running bool) {
	if c == nil {
		return
	}
	c.loopRunning.Set(boolToFloat(running))
}

// SetRecoveryMode 设置恢复模式状态
func (c *Collector) SetRecoveryMode(on bool) {
	if c == nil {
		return
	}
	c.recoveryMode.Set(boolToFloat(on))
}

// =============================================================================
// 🎭 Handler 指标记录
// =============================================================================

// RecordHandlerExecution 记录 handler 执行
func (c *Collector) RecordHandlerExecution(handler, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.handlerExecutionsTotal.WithLabelValues(handler, status).Inc()
	c.handlerExecutionDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

// RecordStatusTransition 记录 handler 状态转换
func (c *Collector) RecordStatusTransition(handler, from, to string) {
	if c == nil {
		return
	}
	c.handlerStatusTransitions.WithLabelValues(handler, from, to).Inc()
}

// RecordHandoff 记录交接
func (c *Collector) RecordHandoff(from, to, status string) {
	if c == nil {
		return
	}
	c.handoffsTotal.WithLabelValues(from, to, status).Inc()
}

// =============================================================================
// 💬 聊天与持久化指标记录
// =============================================================================

// RecordChatMessage 记录发布的聊天消息
func (c *Collector) RecordChatMessage(kind string) {
	if c == nil {
		return
	}
	c.chatMessagesTotal.WithLabelValues(kind).Inc()
}

// RecordChatDropped 记录一次被丢弃的投递
func (c *Collector) RecordChatDropped() {
	if c == nil {
		return
	}
	c.chatDroppedTotal.Inc()
}

// RecordPersistenceError 记录状态存储失败
func (c *Collector) RecordPersistenceError(operation string) {
	if c == nil {
		return
	}
	c.persistenceErrors.WithLabelValues(operation).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
