package main

import (
	"bufio"
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentloop/api/handlers"
	"github.com/BaSui01/agentloop/internal/ctxkeys"
	"github.com/BaSui01/agentloop/internal/metrics"
	"github.com/BaSui01/agentloop/types"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one sees the request first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// =============================================================================
// 📝 responseRecorder
// =============================================================================

// responseRecorder remembers the status and body size. Flush and Hijack
// pass through so /api/v1/chat/ws can upgrade behind the chain.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	written int64
	started bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.started {
		r.status, r.started = code, true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	r.started = true
	n, err := r.ResponseWriter.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *responseRecorder) Flush() {
	_ = http.NewResponseController(r.ResponseWriter).Flush()
}

func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(r.ResponseWriter).Hijack()
	if err == nil {
		r.status, r.started = http.StatusSwitchingProtocols, true
	}
	return conn, rw, err
}

func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// =============================================================================
// 🛡️ Recover / AssignRequestID / SecureHeaders
// =============================================================================

// Recover turns a handler panic into a 500 envelope. http.ErrAbortHandler
// is re-raised so net/http can drop the connection.
func Recover(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}
				logger.Error("panic recovered",
					zap.Any("panic", v),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				handlers.WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "internal server error", nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// maxRequestIDLen bounds client-supplied X-Request-ID values.
const maxRequestIDLen = 128

// AssignRequestID echoes a client X-Request-ID or mints "req-<uuid hex>",
// and stores it in the request context for the response envelope.
func AssignRequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(handlers.RequestIDHeader)
			if id == "" || len(id) > maxRequestIDLen {
				id = "req-" + strings.ReplaceAll(uuid.NewString(), "-", "")
			}
			w.Header().Set(handlers.RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithRequestID(r.Context(), id)))
		})
	}
}

var securityHeaders = [...][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Content-Security-Policy", "default-src 'self'"},
}

// SecureHeaders sets the fixed security response headers.
func SecureHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range securityHeaders {
				w.Header().Set(h[0], h[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// 🔭 Observe: tracing + metrics + access log
// =============================================================================

// Observe wraps each request in a server span (continuing any propagated
// trace), records it on collector and writes one access log line whose
// level follows the status class. A nil collector skips metrics.
func Observe(logger *zap.Logger, collector *metrics.Collector) Middleware {
	tracer := otel.Tracer("github.com/BaSui01/agentloop/http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeLabel(r.URL.Path)

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.HTTPRoute(route),
				),
			)
			defer span.End()

			rec := newResponseRecorder(w)
			next.ServeHTTP(rec, r.WithContext(ctx))
			elapsed := time.Since(start)

			span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
			if rec.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			}
			if collector != nil {
				collector.RecordHTTPRequest(r.Method, route, rec.status, elapsed, rec.written)
			}

			requestID, _ := ctxkeys.RequestID(r.Context())
			logger.Log(accessLevel(rec.status), "request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int64("bytes", rec.written),
				zap.Duration("duration", elapsed),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", requestID),
			)
		})
	}
}

func accessLevel(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// routeLabel maps a request path onto a bounded set of route labels.
// Paths under a parameterised prefix collapse onto its template; anything
// unknown is reported as "other" so scanners cannot blow up cardinality.
func routeLabel(path string) string {
	if _, ok := knownRoutes[path]; ok {
		return path
	}
	for _, p := range paramRoutes {
		if rest, ok := strings.CutPrefix(path, p.prefix); ok && rest != "" && !strings.Contains(rest, "/") {
			return p.template
		}
	}
	return "other"
}

var knownRoutes = map[string]struct{}{
	"/health": {}, "/healthz": {}, "/ready": {}, "/readyz": {}, "/version": {},
	"/api/v1/loop/start": {}, "/api/v1/loop/stop": {}, "/api/v1/loop/reset": {},
	"/api/v1/loop/status": {}, "/api/v1/loop/traces": {}, "/api/v1/loop/handoffs": {},
	"/api/v1/goals": {}, "/api/v1/handlers": {},
	"/api/v1/chat/history": {}, "/api/v1/chat/ws": {},
}

var paramRoutes = []struct{ prefix, template string }{
	{"/api/v1/handlers/", "/api/v1/handlers/{name}"},
	{"/api/v1/goals/", "/api/v1/goals/{id}"},
}

// =============================================================================
// 🚦 RateLimit
// =============================================================================

// clientIdleTTL is how long an idle client's limiter is kept.
const clientIdleTTL = 3 * time.Minute

// clientLimiter hands out one token bucket per client IP.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		limit:   rate.Limit(rps),
		burst:   max(burst, 1),
		clients: make(map[string]*clientBucket),
	}
}

func (c *clientLimiter) allow(ip string, now time.Time) bool {
	c.mu.Lock()
	b, ok := c.clients[ip]
	if !ok {
		b = &clientBucket{lim: rate.NewLimiter(c.limit, c.burst)}
		c.clients[ip] = b
	}
	b.lastSeen = now
	c.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// sweep drops clients idle since before cutoff and returns how many remain.
func (c *clientLimiter) sweep(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ip, b := range c.clients {
		if b.lastSeen.Before(cutoff) {
			delete(c.clients, ip)
		}
	}
	return len(c.clients)
}

// retryAfter is the whole number of seconds until one token refills.
func (c *clientLimiter) retryAfter() string {
	if c.limit <= 0 {
		return "60"
	}
	return strconv.Itoa(int(math.Ceil(1 / float64(c.limit))))
}

// RateLimit applies a per-IP token bucket and answers 429 with Retry-After
// when it is empty. The idle-client sweep stops with ctx.
func RateLimit(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	limiter := newClientLimiter(rps, burst)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				limiter.sweep(now.Add(-clientIdleTTL))
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !limiter.allow(ip, time.Now()) {
				logger.Debug("rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
				w.Header().Set("Retry-After", limiter.retryAfter())
				handlers.WriteErrorMessage(w, http.StatusTooManyRequests, types.ErrRateLimited, "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
