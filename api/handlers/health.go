package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/BaSui01/agentloop/agent/persistence"
	"go.uber.org/zap"
)

// probeTimeout 就绪探测的总超时
const probeTimeout = 5 * time.Second

// Probe states reported per check.
const (
	ProbePass = "pass"
	ProbeWarn = "warn"
	ProbeFail = "fail"
)

// ErrDegraded marks a probe error that is reported but keeps the service
// ready.
var ErrDegraded = errors.New("degraded")

// =============================================================================
// 🏥 存活 / 就绪探测
// =============================================================================

// Probe is one named readiness check.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// ProbeResult is the outcome of one Probe.
type ProbeResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthReport is the body of every health endpoint.
type HealthReport struct {
	// healthy | degraded | unhealthy
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]ProbeResult `json:"checks,omitempty"`
}

// LoopProber is the part of the scheduler the loop probe reads.
type LoopProber interface {
	Running() bool
	RecoveryMode() bool
}

// HealthHandler serves liveness, readiness and version information.
type HealthHandler struct {
	started time.Time
	logger  *zap.Logger

	mu     sync.RWMutex
	probes []Probe
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		started: time.Now(),
		logger:  logger.With(zap.String("component", "health_handler")),
	}
}

// AddProbe registers p; a probe with the same name replaces the old one.
func (h *HealthHandler) AddProbe(p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := slices.IndexFunc(h.probes, func(q Probe) bool { return q.Name == p.Name }); i >= 0 {
		h.probes[i] = p
		return
	}
	h.probes = append(h.probes, p)
}

// Probes returns the registered probe names in registration order.
func (h *HealthHandler) Probes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, len(h.probes))
	for i, p := range h.probes {
		names[i] = p.Name
	}
	return names
}

// HandleHealth 存活探针：进程能响应即健康，不执行任何探测
// @Summary 健康检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthReport "服务正常"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.report("healthy", nil))
}

// HandleReady 就绪探针：并发执行所有探测，任一失败返回 503
// @Summary 就绪检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthReport "服务已就绪"
// @Failure 503 {object} HealthReport "服务未就绪"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	h.mu.RLock()
	probes := slices.Clone(h.probes)
	h.mu.RUnlock()

	results := h.run(ctx, probes)

	status, code := "healthy", http.StatusOK
	for _, res := range results {
		switch res.Status {
		case ProbeFail:
			status, code = "unhealthy", http.StatusServiceUnavailable
		case ProbeWarn:
			if status == "healthy" {
				status = "degraded"
			}
		}
	}
	WriteJSON(w, code, h.report(status, results))
}

func (h *HealthHandler) run(ctx context.Context, probes []Probe) map[string]ProbeResult {
	results := make(map[string]ProbeResult, len(probes))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := p.Check(ctx)
			latency := time.Since(start)

			res := ProbeResult{Status: ProbePass, Latency: latency.String()}
			switch {
			case err == nil:
			case errors.Is(err, ErrDegraded):
				res.Status, res.Message = ProbeWarn, err.Error()
			default:
				res.Status, res.Message = ProbeFail, err.Error()
				h.logger.Warn("readiness probe failed",
					zap.String("probe", p.Name),
					zap.Duration("latency", latency),
					zap.Error(err),
				)
			}

			mu.Lock()
			results[p.Name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (h *HealthHandler) report(status string, checks map[string]ProbeResult) HealthReport {
	return HealthReport{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    checks,
	}
}

// HandleVersion 返回构建信息
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 内置探测
// =============================================================================

// StoreProbe pings the state store.
func StoreProbe(store persistence.StateStore) Probe {
	return Probe{Name: "state_store", Check: store.Ping}
}

// LoopProbe never fails readiness: a loop in recovery mode is reported as
// degraded, a stopped loop passes.
func LoopProbe(loop LoopProber) Probe {
	return Probe{Name: "loop", Check: func(context.Context) error {
		if loop.Running() && loop.RecoveryMode() {
			return fmt.Errorf("%w: recovery mode active", ErrDegraded)
		}
		return nil
	}}
}
