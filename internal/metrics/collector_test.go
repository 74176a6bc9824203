package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func newTestCollector() *Collector {
	return NewCollector(nextTestNamespace(), prometheus.NewRegistry(), zap.NewNop())
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := newTestCollector()

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.cyclesTotal)
	assert.NotNil(t, collector.handlerExecutionsTotal)
	assert.NotNil(t, collector.chatDroppedTotal)
}

func TestNewCollector_SameNamespaceSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector("dup", prometheus.NewRegistry(), nil)
		NewCollector("dup", prometheus.NewRegistry(), nil)
	})
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := newTestCollector()

	collector.RecordHTTPRequest("GET", "/api/v1/loop/status", 200, 100*time.Millisecond, 2048)
	collector.RecordHTTPRequest("GET", "/api/v1/loop/status", 204, 50*time.Millisecond, 0)
	collector.RecordHTTPRequest("POST", "/api/v1/loop/start", 409, 5*time.Millisecond, 64)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/api/v1/loop/status", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/loop/start", "4xx")))
}

func TestCollector_RecordCycle(t *testing.T) {
	collector := newTestCollector()

	collector.RecordCycle("success", 10*time.Millisecond)
	collector.RecordCycle("failed", 20*time.Millisecond)
	collector.RecordCycle("success", 30*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.cyclesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cyclesTotal.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.cycleDuration))
}

func TestCollector_Gauges(t *testing.T) {
	collector := newTestCollector()

	collector.SetCyclesCompleted(7)
	collector.SetRunning(true)
	collector.SetRecoveryMode(true)
	assert.Equal(t, 7.0, testutil.ToFloat64(collector.cyclesCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.loopRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.recoveryMode))

	collector.SetRunning(false)
	collector.SetRecoveryMode(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.loopRunning))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.recoveryMode))
}

func TestCollector_HandlerMetrics(t *testing.T) {
	collector := newTestCollector()

	collector.RecordHandlerExecution("planner", "success", time.Millisecond)
	collector.RecordHandlerExecution("planner", "failed", time.Millisecond)
	collector.RecordStatusTransition("planner", "idle", "running")
	collector.RecordHandoff("researcher", "summarizer", "completed")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.handlerExecutionsTotal.WithLabelValues("planner", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.handlerStatusTransitions.WithLabelValues("planner", "idle", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.handoffsTotal.WithLabelValues("researcher", "summarizer", "completed")))
}

func TestCollector_ChatAndPersistence(t *testing.T) {
	collector := newTestCollector()

	collector.RecordChatMessage("success")
	collector.RecordChatDropped()
	collector.RecordChatDropped()
	collector.RecordPersistenceError("put")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.chatMessagesTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.chatDroppedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.persistenceErrors.WithLabelValues("put")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var collector *Collector
	assert.NotPanics(t, func() {
		collector.RecordHTTPRequest("GET", "/", 200, time.Millisecond, 0)
		collector.RecordCycle("success", time.Millisecond)
		collector.SetCyclesCompleted(1)
		collector.SetRunning(true)
		collector.SetRecoveryMode(true)
		collector.RecordHandlerExecution("a", "success", time.Millisecond)
		collector.RecordStatusTransition("a", "idle", "running")
		collector.RecordHandoff("a", "b", "completed")
		collector.RecordChatMessage("info")
		collector.RecordChatDropped()
		collector.RecordPersistenceError("get")
	})
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code))
	}
}
