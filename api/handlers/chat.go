package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentloop/agent/chat"
	"github.com/BaSui01/agentloop/api"
	"github.com/BaSui01/agentloop/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const (
	// streamBuffer 每个 websocket 连接的待发送队列
	streamBuffer = 64
	// streamWriteTimeout 单条消息写超时
	streamWriteTimeout = 5 * time.Second
)

// =============================================================================
// 💬 聊天 Handler
// =============================================================================

// ChatHandler 提供聊天历史查询与 websocket 推送
type ChatHandler struct {
	bus            *chat.Bus
	originPatterns []string
	logger         *zap.Logger

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	streams sync.WaitGroup
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(bus *chat.Bus, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		bus:    bus,
		logger: logger.With(zap.String("component", "chat_handler")),
		done:   make(chan struct{}),
	}
}

// SetOriginPatterns 允许跨域 websocket 的 Origin 模式（path.Match 语法）
func (h *ChatHandler) SetOriginPatterns(patterns []string) {
	h.originPatterns = patterns
}

// HandleHistory 返回聊天历史，limit=0 表示全部
// @Summary 聊天历史
// @Tags chat
// @Produce json
// @Param limit query int false "条数"
// @Success 200 {object} Response{data=api.ChatHistoryResponse}
// @Router /api/v1/chat/history [get]
func (h *ChatHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	limit, ok := QueryLimit(w, r, 0, 0, h.logger)
	if !ok {
		return
	}
	msgs := h.bus.Recent(limit)
	WriteSuccess(w, api.ChatHistoryResponse{
		Messages: msgs,
		Total:    h.bus.Len(),
		Capacity: h.bus.Capacity(),
	})
}

// HandleStream 将聊天消息以 JSON 文本帧推送给 websocket 客户端。
// ?backlog=N 先发送最近 N 条历史。客户端发送的数据被忽略。
// @Summary 聊天推送
// @Tags chat
// @Param backlog query int false "历史条数"
// @Router /api/v1/chat/ws [get]
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	backlog := 0
	if raw := r.URL.Query().Get("backlog"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
				"backlog must be a non-negative integer", h.logger)
			return
		}
		backlog = n
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrInternalError, "chat stream closed", h.logger)
		return
	}
	h.streams.Add(1)
	h.mu.Unlock()
	defer h.streams.Done()

	// 长连接不受 http.Server 的读写超时约束
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 先订阅再取历史，重复的消息按 ID 过滤
	mailbox := make(chan chat.Message, streamBuffer)
	var dropped atomic.Int64
	unsubscribe := h.bus.Subscribe(func(m chat.Message) {
		select {
		case mailbox <- m:
		default:
			dropped.Add(1)
		}
	})
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())
	log := h.logger.With(zap.String("remote", r.RemoteAddr))
	log.Debug("chat stream opened", zap.Int("backlog", backlog))

	sent := make(map[string]struct{})
	if backlog > 0 {
		for _, m := range h.bus.Recent(backlog) {
			if err := writeMessage(ctx, conn, m); err != nil {
				log.Debug("chat stream write failed", zap.Error(err))
				return
			}
			sent[m.ID] = struct{}{}
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug("chat stream closed by client")
			return
		case <-h.done:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case m := <-mailbox:
			if _, dup := sent[m.ID]; dup {
				delete(sent, m.ID)
				continue
			}
			if err := writeMessage(ctx, conn, m); err != nil {
				log.Debug("chat stream write failed", zap.Error(err), zap.Int64("dropped", dropped.Load()))
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, m chat.Message) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, m)
}

// Close 关闭所有 websocket 推送并拒绝新连接。http.Server.Shutdown
// 不会关闭已升级的连接，需在其之前调用。
func (h *ChatHandler) Close() {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
	h.mu.Unlock()
	h.streams.Wait()
}
