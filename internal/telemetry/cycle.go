package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the loop's tracer and meter.
const InstrumentationName = "github.com/BaSui01/agentloop/orchestrator"

// Instrument names exported through the global meter provider.
const (
	MetricCycles        = "loop.cycles"
	MetricCycleDuration = "loop.cycle.duration"
)

// CycleResult is what a finished cycle reports to its span.
type CycleResult struct {
	Handler  string
	Reason   string
	Outcome  string
	Recovery bool
	Err      string
	Duration time.Duration
}

// CycleSpan wraps the span covering one loop cycle.
type CycleSpan struct {
	span trace.Span
}

// StartCycle opens the "loop.cycle" span for cycle number cycle of run runID.
func StartCycle(ctx context.Context, runID string, cycle int64) (context.Context, *CycleSpan) {
	ctx, span := otel.Tracer(InstrumentationName).Start(ctx, "loop.cycle",
		trace.WithAttributes(
			attribute.String("loop.run_id", runID),
			attribute.Int64("loop.cycle", cycle),
		),
	)
	return ctx, &CycleSpan{span: span}
}

// End annotates the span with r, records the cycle instruments and ends the
// span. A non-empty r.Err marks the span as failed.
func (c *CycleSpan) End(ctx context.Context, r CycleResult) {
	attrs := []attribute.KeyValue{
		attribute.String("loop.handler", r.Handler),
		attribute.String("loop.selection_reason", r.Reason),
		attribute.String("loop.outcome", r.Outcome),
		attribute.Bool("loop.recovery", r.Recovery),
	}
	c.span.SetAttributes(attrs...)
	if r.Err != "" {
		c.span.SetStatus(codes.Error, r.Err)
	}
	c.span.End()

	// 按调用获取 instrument，SDK 按名称去重；全局 provider 可能在运行期替换
	meter := otel.Meter(InstrumentationName)
	set := metric.WithAttributes(
		attribute.String("loop.outcome", r.Outcome),
		attribute.Bool("loop.recovery", r.Recovery),
	)
	if counter, err := meter.Int64Counter(MetricCycles,
		metric.WithDescription("Completed loop cycles"),
	); err == nil {
		counter.Add(ctx, 1, set)
	}
	if hist, err := meter.Float64Histogram(MetricCycleDuration,
		metric.WithDescription("Loop cycle duration"),
		metric.WithUnit("s"),
	); err == nil {
		hist.Record(ctx, r.Duration.Seconds(), set)
	}
}
