package api

import (
	"time"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/agent/chat"
	"github.com/BaSui01/agentloop/agent/goals"
	"github.com/BaSui01/agentloop/orchestrator"
)

// =============================================================================
// 循环控制类型
// =============================================================================

// StartLoopRequest 启动循环请求，所有字段可选，未设置时使用服务端配置。
// @Description 启动循环请求结构
type StartLoopRequest struct {
	// 循环间隔（Go duration 格式）
	LoopDelay string `json:"loop_delay,omitempty" example:"2s"`
	// 最大循环次数，0 表示不限
	MaxCycles *int64 `json:"max_cycles,omitempty" example:"100"`
	// 处理器超时（Go duration 格式）
	HandlerTimeout string `json:"handler_timeout,omitempty" example:"30s"`
	// 选择随机种子
	Seed *int64 `json:"seed,omitempty"`
}

// LoopStatusResponse 循环状态响应
// @Description 循环状态
type LoopStatusResponse struct {
	Running         bool      `json:"running"`
	RunID           string    `json:"run_id,omitempty"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	CyclesCompleted int64     `json:"cycles_completed"`
	RecoveryMode    bool      `json:"recovery_mode"`
	RecentFailures  int       `json:"recent_failures"`
	LastHandoffAt   time.Time `json:"last_handoff_at,omitempty"`
	// 当前生效的循环配置
	LoopDelay       string `json:"loop_delay"`
	MaxCycles       int64  `json:"max_cycles,omitempty"`
	HandoffCooldown string `json:"handoff_cooldown"`
	// 最近一次循环，未运行过时为空
	LastCycle *orchestrator.CycleTrace `json:"last_cycle,omitempty"`
}

// NewLoopStatus 从调度器快照构建状态响应
func NewLoopStatus(state orchestrator.LoopState, last *orchestrator.CycleTrace) LoopStatusResponse {
	return LoopStatusResponse{
		Running:         state.Running,
		RunID:           state.RunID,
		StartedAt:       state.StartedAt,
		CyclesCompleted: state.CyclesCompleted,
		RecoveryMode:    state.RecoveryMode,
		RecentFailures:  state.RecentFailures,
		LastHandoffAt:   state.LastHandoffAt,
		LoopDelay:       state.Config.LoopDelay.String(),
		MaxCycles:       state.Config.MaxCycles,
		HandoffCooldown: state.Config.HandoffCooldown.String(),
		LastCycle:       last,
	}
}

// TraceListResponse 循环轨迹列表
type TraceListResponse struct {
	Traces []orchestrator.CycleTrace `json:"traces"`
	Total  int                       `json:"total"`
}

// =============================================================================
// 目标类型
// =============================================================================

// GoalRequest 新增目标请求
// @Description 新增目标
type GoalRequest struct {
	// 目标文本，路由关键词大小写不敏感
	Text string `json:"text" example:"research the migration plan" binding:"required"`
	// 优先级 1-10，0 表示默认值 5
	Priority int `json:"priority,omitempty" example:"5"`
}

// DefaultGoalPriority is used when a GoalRequest leaves Priority unset.
const DefaultGoalPriority = 5

// GoalListResponse 目标列表
type GoalListResponse struct {
	Goals  []goals.Goal `json:"goals"`
	Active int          `json:"active"`
	Total  int          `json:"total"`
}

// =============================================================================
// 处理器与聊天类型
// =============================================================================

// HandlerListResponse 处理器列表
type HandlerListResponse struct {
	Handlers []agent.Descriptor `json:"handlers"`
	Total    int                `json:"total"`
}

// ChatHistoryResponse 聊天历史
type ChatHistoryResponse struct {
	Messages []chat.Message `json:"messages"`
	Total    int            `json:"total"`
	Capacity int            `json:"capacity"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorResponse 错误响应
// @Description 错误响应结构
type ErrorResponse struct {
	Success bool        `json:"success" example:"false"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
// @Description 错误详情
type ErrorDetail struct {
	// 错误码（例如 ALREADY_RUNNING、INVALID_GOAL）
	Code string `json:"code" example:"INVALID_GOAL"`
	// 错误信息
	Message string `json:"message" example:"goal text must not be empty"`
}
