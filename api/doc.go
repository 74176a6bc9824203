// Package api describes the AgentLoop HTTP control surface.
//
// # API Overview
//
// The control surface lets an operator drive one loop instance:
//   - Start, stop and reset the loop, read its status and recent traces
//   - Enqueue and list goals
//   - List registered handlers with their weights and status
//   - Read the chat history or stream it over a websocket
//   - Health and version endpoints
//
// Authentication is out of scope; deploy the API behind a trusted proxy.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// Metrics are served separately, by default on :9091/metrics.
//
// # Endpoints
//
//	POST /api/v1/loop/start     start a run, optional StartLoopRequest body
//	POST /api/v1/loop/stop      stop the current run (idempotent)
//	POST /api/v1/loop/reset     clear counters and recovery state
//	GET  /api/v1/loop/status    LoopStatusResponse
//	GET  /api/v1/loop/traces    recent cycle traces, ?limit=N
//	GET  /api/v1/loop/handoffs  recent hand-offs, ?limit=N
//	GET  /api/v1/goals          goals, ?status=active|completed
//	POST /api/v1/goals          GoalRequest
//	GET  /api/v1/handlers       registered handlers
//	GET  /api/v1/chat/history   chat history, ?limit=N
//	GET  /api/v1/chat/ws        websocket stream of chat messages
package api
