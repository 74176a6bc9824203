package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	runIDKey     contextKey = "run_id"
	cycleKey     contextKey = "cycle"
	handlerKey   contextKey = "handler"
)

// WithRequestID 设置 HTTP 请求 ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID 获取 HTTP 请求 ID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRunID 设置循环运行 ID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID 获取循环运行 ID
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithCycle 设置 cycle 编号
func WithCycle(ctx context.Context, cycle int64) context.Context {
	return context.WithValue(ctx, cycleKey, cycle)
}

// Cycle 获取 cycle 编号
func Cycle(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(cycleKey).(int64)
	return v, ok
}

// WithHandler 设置当前执行的 handler 名称
func WithHandler(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, handlerKey, name)
}

// Handler 获取当前执行的 handler 名称
func Handler(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(handlerKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
