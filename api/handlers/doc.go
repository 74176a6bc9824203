// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AgentLoop HTTP 控制面的请求处理器实现。

# 概述

handlers 包实现循环控制、目标管理、处理器查询、聊天历史与
websocket 推送以及健康检查。所有 Handler 均遵循标准 net/http 接口，
错误统一以 types.Error 表达并映射为 HTTP 状态码。

# 核心类型

  - LoopHandler：start/stop/reset/status/traces/handoffs
  - GoalHandler：目标列表与新增
  - RegistryHandler：处理器列表与单个查询
  - ChatHandler：聊天历史与 /api/v1/chat/ws 推送（coder/websocket）
  - HealthHandler：/health、/healthz、/ready 存活与就绪探测（状态存储、循环状态），HandleVersion 输出构建信息
  - Response / ErrorInfo：统一 JSON 响应结构

# 主要能力

  - 统一响应格式：WriteSuccess / WriteCreated / WriteError / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - LoopController / GoalSetter 接口便于替换调度器
*/
package handlers
