package handlers

import (
	"net/http"
	"strings"

	"github.com/BaSui01/agentloop/agent/goals"
	"github.com/BaSui01/agentloop/api"
	"github.com/BaSui01/agentloop/types"
	"go.uber.org/zap"
)

// GoalSetter 入队并持久化目标，*orchestrator.Scheduler 实现它
type GoalSetter interface {
	SetGoal(text string, priority int) (*goals.Goal, error)
}

// GoalHandler 目标处理器
type GoalHandler struct {
	setter GoalSetter
	queue  *goals.Queue
	logger *zap.Logger
}

// NewGoalHandler 创建目标处理器
func NewGoalHandler(setter GoalSetter, queue *goals.Queue, logger *zap.Logger) *GoalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoalHandler{
		setter: setter,
		queue:  queue,
		logger: logger.With(zap.String("component", "goal_handler")),
	}
}

// HandleGoals 按方法分发：GET 列出，POST 新增
func (h *GoalHandler) HandleGoals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.HandleList(w, r)
	case http.MethodPost:
		h.HandleCreate(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
	}
}

// HandleList 列出目标，可用 ?status=active|completed 过滤
// @Summary 目标列表
// @Tags goals
// @Produce json
// @Param status query string false "active 或 completed"
// @Success 200 {object} Response{data=api.GoalListResponse}
// @Router /api/v1/goals [get]
func (h *GoalHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := goals.Status(strings.ToLower(r.URL.Query().Get("status")))
	switch filter {
	case "", goals.StatusActive, goals.StatusCompleted:
	default:
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"status must be active or completed", h.logger)
		return
	}

	all := h.queue.List()
	resp := api.GoalListResponse{Goals: make([]goals.Goal, 0, len(all)), Total: len(all)}
	for _, g := range all {
		if g.Status == goals.StatusActive {
			resp.Active++
		}
		if filter == "" || g.Status == filter {
			resp.Goals = append(resp.Goals, g)
		}
	}
	WriteSuccess(w, resp)
}

// HandleCreate 新增目标
// @Summary 新增目标
// @Tags goals
// @Accept json
// @Produce json
// @Param request body api.GoalRequest true "目标"
// @Success 201 {object} Response{data=goals.Goal}
// @Failure 400 {object} Response "目标无效"
// @Router /api/v1/goals [post]
func (h *GoalHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.GoalRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Priority == 0 {
		req.Priority = api.DefaultGoalPriority
	}

	g, err := h.setter.SetGoal(req.Text, req.Priority)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.logger.Info("goal added via API", zap.String("goal_id", g.ID), zap.Int("priority", g.Priority))
	WriteCreated(w, g)
}
