package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/orchestrator"
	"github.com/BaSui01/agentloop/testutil/fixtures"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- 测试辅助 ---

// testEnv wires a real scheduler to the handlers through one mux.
type testEnv struct {
	scheduler *orchestrator.Scheduler
	registry  *agent.Registry
	loop      *LoopHandler
	goals     *GoalHandler
	chat      *ChatHandler
	mux       *http.ServeMux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	reg := fixtures.Registry(t,
		fixtures.Entry{Name: "echo", Weight: 1, Fn: fixtures.Succeed("echoed")},
		fixtures.Entry{Name: "researcher", Weight: 3, Fn: fixtures.Succeed("researched")},
	)

	s := orchestrator.NewScheduler(reg, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	base := orchestrator.DefaultConfig()
	base.LoopDelay = time.Hour

	env := &testEnv{
		scheduler: s,
		registry:  reg,
		loop:      NewLoopHandler(s, base, logger),
		goals:     NewGoalHandler(s, s.Goals(), logger),
		chat:      NewChatHandler(s.Bus(), logger),
		mux:       http.NewServeMux(),
	}
	t.Cleanup(env.chat.Close)

	registry := NewRegistryHandler(reg, logger)
	env.mux.HandleFunc("/api/v1/loop/start", env.loop.HandleStart)
	env.mux.HandleFunc("/api/v1/loop/stop", env.loop.HandleStop)
	env.mux.HandleFunc("/api/v1/loop/reset", env.loop.HandleReset)
	env.mux.HandleFunc("/api/v1/loop/status", env.loop.HandleStatus)
	env.mux.HandleFunc("/api/v1/loop/traces", env.loop.HandleTraces)
	env.mux.HandleFunc("/api/v1/loop/handoffs", env.loop.HandleHandoffs)
	env.mux.HandleFunc("/api/v1/goals", env.goals.HandleGoals)
	env.mux.HandleFunc("/api/v1/handlers", registry.HandleList)
	env.mux.HandleFunc("/api/v1/handlers/", registry.HandleList)
	env.mux.HandleFunc("/api/v1/chat/history", env.chat.HandleHistory)
	env.mux.HandleFunc("/api/v1/chat/ws", env.chat.HandleStream)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)
	return w
}

// decodeData unmarshals Response.Data into T.
func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) (T, Response) {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	var v T
	if len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, &v))
	}
	return v, raw.Response
}
