package handlers

import (
	"net/http"
	"strings"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/api"
	"go.uber.org/zap"
)

// RegistryHandler 处理器注册表查询
type RegistryHandler struct {
	registry *agent.Registry
	logger   *zap.Logger
}

// NewRegistryHandler 创建注册表查询处理器
func NewRegistryHandler(registry *agent.Registry, logger *zap.Logger) *RegistryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryHandler{
		registry: registry,
		logger:   logger.With(zap.String("component", "registry_handler")),
	}
}

// HandleList 列出所有处理器，或在 /api/v1/handlers/{name} 上返回单个处理器
// @Summary 处理器列表
// @Tags handlers
// @Produce json
// @Success 200 {object} Response{data=api.HandlerListResponse}
// @Failure 404 {object} Response "处理器不存在"
// @Router /api/v1/handlers [get]
func (h *RegistryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}

	if name := extractHandlerName(r); name != "" {
		d, err := h.registry.Get(name)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		WriteSuccess(w, d)
		return
	}

	descs := h.registry.Descriptors()
	WriteSuccess(w, api.HandlerListResponse{Handlers: descs, Total: len(descs)})
}

// extractHandlerName 从 /api/v1/handlers/{name} 提取名称
func extractHandlerName(r *http.Request) string {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/handlers")
	return strings.Trim(rest, "/")
}
