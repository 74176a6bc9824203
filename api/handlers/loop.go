package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/agentloop/agent/handoff"
	"github.com/BaSui01/agentloop/api"
	"github.com/BaSui01/agentloop/orchestrator"
	"github.com/BaSui01/agentloop/types"
	"go.uber.org/zap"
)

// 列表接口的分页上限
const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// =============================================================================
// 🔁 循环控制 Handler
// =============================================================================

// LoopController 是 LoopHandler 依赖的调度器操作，*orchestrator.Scheduler 实现它
type LoopController interface {
	Start(ctx context.Context, cfg orchestrator.Config) error
	Stop() error
	Reset()
	State() orchestrator.LoopState
	Traces(limit int) []orchestrator.CycleTrace
	Handoffs(limit int) []handoff.Handoff
}

var _ LoopController = (*orchestrator.Scheduler)(nil)

// LoopHandler 循环控制处理器
type LoopHandler struct {
	loop   LoopController
	base   orchestrator.Config
	logger *zap.Logger
}

// NewLoopHandler 创建循环控制处理器；base 是 start 请求未覆盖字段时使用的配置
func NewLoopHandler(loop LoopController, base orchestrator.Config, logger *zap.Logger) *LoopHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoopHandler{
		loop:   loop,
		base:   base,
		logger: logger.With(zap.String("component", "loop_handler")),
	}
}

// HandleStart 启动循环
// @Summary 启动循环
// @Tags loop
// @Accept json
// @Produce json
// @Param request body api.StartLoopRequest false "配置覆盖"
// @Success 200 {object} Response{data=api.LoopStatusResponse}
// @Failure 400 {object} Response "配置无效"
// @Failure 409 {object} Response "循环已在运行"
// @Router /api/v1/loop/start [post]
func (h *LoopHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}

	cfg := h.base
	if r.ContentLength != 0 {
		var req api.StartLoopRequest
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
		var err error
		if cfg, err = applyStartRequest(cfg, req); err != nil {
			WriteError(w, err, h.logger)
			return
		}
	}

	if err := h.loop.Start(r.Context(), cfg); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.logger.Info("loop started via API", zap.Duration("loop_delay", cfg.LoopDelay))
	WriteSuccess(w, h.status())
}

func applyStartRequest(cfg orchestrator.Config, req api.StartLoopRequest) (orchestrator.Config, error) {
	if req.LoopDelay != "" {
		d, err := time.ParseDuration(req.LoopDelay)
		if err != nil {
			return cfg, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid loop_delay %q", req.LoopDelay)).WithCause(err)
		}
		cfg.LoopDelay = d
	}
	if req.HandlerTimeout != "" {
		d, err := time.ParseDuration(req.HandlerTimeout)
		if err != nil {
			return cfg, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid handler_timeout %q", req.HandlerTimeout)).WithCause(err)
		}
		cfg.HandlerTimeout = d
	}
	if req.MaxCycles != nil {
		cfg.MaxCycles = *req.MaxCycles
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	return cfg, nil
}

// HandleStop 停止循环，未运行时同样返回成功
// @Summary 停止循环
// @Tags loop
// @Produce json
// @Success 200 {object} Response{data=api.LoopStatusResponse}
// @Router /api/v1/loop/stop [post]
func (h *LoopHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}
	if err := h.loop.Stop(); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, h.status())
}

// HandleReset 清空循环计数、恢复模式与交接时钟，保留目标和聊天记录
// @Summary 重置循环
// @Tags loop
// @Produce json
// @Success 200 {object} Response{data=api.LoopStatusResponse}
// @Router /api/v1/loop/reset [post]
func (h *LoopHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}
	h.loop.Reset()
	WriteSuccess(w, h.status())
}

// HandleStatus 返回循环状态
// @Summary 循环状态
// @Tags loop
// @Produce json
// @Success 200 {object} Response{data=api.LoopStatusResponse}
// @Router /api/v1/loop/status [get]
func (h *LoopHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	WriteSuccess(w, h.status())
}

// HandleTraces 返回最近的循环轨迹，limit=0 表示全部保留的轨迹
// @Summary 循环轨迹
// @Tags loop
// @Produce json
// @Param limit query int false "条数"
// @Success 200 {object} Response{data=api.TraceListResponse}
// @Router /api/v1/loop/traces [get]
func (h *LoopHandler) HandleTraces(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	limit, ok := QueryLimit(w, r, defaultListLimit, maxListLimit, h.logger)
	if !ok {
		return
	}
	traces := h.loop.Traces(limit)
	WriteSuccess(w, api.TraceListResponse{Traces: traces, Total: len(traces)})
}

// HandleHandoffs 返回最近的交接记录
// @Summary 交接记录
// @Tags loop
// @Produce json
// @Param limit query int false "条数"
// @Success 200 {object} Response{data=[]handoff.Handoff}
// @Router /api/v1/loop/handoffs [get]
func (h *LoopHandler) HandleHandoffs(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	limit, ok := QueryLimit(w, r, defaultListLimit, maxListLimit, h.logger)
	if !ok {
		return
	}
	WriteSuccess(w, h.loop.Handoffs(limit))
}

func (h *LoopHandler) status() api.LoopStatusResponse {
	var last *orchestrator.CycleTrace
	if traces := h.loop.Traces(1); len(traces) == 1 {
		last = &traces[0]
	}
	return api.NewLoopStatus(h.loop.State(), last)
}
