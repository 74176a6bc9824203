package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/agentloop/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

// restoreGlobals puts the global OTel providers back after the test.
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func shutdownQuickly(t *testing.T, p *Providers) {
	t.Cleanup(func() {
		// 没有 collector，导出失败是预期的
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
}

func TestInit_Disabled(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()

	p, err := Init(context.Background(), config.TelemetryConfig{}, "1.0.0", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Same(t, before, otel.GetTracerProvider(), "disabled init must not touch globals")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_InstallsSDKProviders(t *testing.T) {
	restoreGlobals(t)

	cfg := config.DefaultTelemetryConfig()
	cfg.Enabled = true
	cfg.ServiceName = "agentloop-test"
	p, err := Init(context.Background(), cfg, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	shutdownQuickly(t, p)

	assert.True(t, p.Enabled())
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())
	assert.IsType(t, &sdkmetric.MeterProvider{}, otel.GetMeterProvider())
}

func TestProviders_ShutdownNil(t *testing.T) {
	var p *Providers
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBuildVersion(t *testing.T) {
	// go test 二进制的主模块版本是 (devel)
	assert.Equal(t, "dev", buildVersion())
}

func TestCycleSpan(t *testing.T) {
	restoreGlobals(t)
	spans := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	ctx, span := StartCycle(context.Background(), "run-1", 3)
	span.End(ctx, CycleResult{
		Handler:  "planner",
		Reason:   "weighted",
		Outcome:  "success",
		Duration: 250 * time.Millisecond,
	})
	ctx, span = StartCycle(context.Background(), "run-1", 4)
	span.End(ctx, CycleResult{Handler: "critic", Outcome: "failed", Recovery: true, Err: "boom"})

	ended := spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "loop.cycle", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.Int64("loop.cycle", 3))
	assert.Contains(t, ended[0].Attributes(), attribute.String("loop.run_id", "run-1"))
	assert.Contains(t, ended[0].Attributes(), attribute.String("loop.handler", "planner"))
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "boom", ended[1].Status().Description)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, InstrumentationName, rm.ScopeMetrics[0].Scope.Name)

	found := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		found[m.Name] = m
	}

	cycles, ok := found[MetricCycles].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range cycles.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)
	assert.Len(t, cycles.DataPoints, 2, "one series per outcome")

	hist, ok := found[MetricCycleDuration].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var samples uint64
	for _, dp := range hist.DataPoints {
		samples += dp.Count
	}
	assert.Equal(t, uint64(2), samples)
}
