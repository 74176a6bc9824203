// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、循环、
handler、聊天总线与持久化五个维度。

# 概述

Collector 通过 promauto.With 注册到调用方提供的 Registerer，
所有指标按 namespace 隔离。测试中每个 Collector 使用独立的
prometheus.Registry。nil *Collector 的方法均为空操作，
orchestrator 在未启用指标时无需判空。

# 核心指标

  - loop_cycles_total{outcome} / loop_cycle_duration_seconds
  - loop_cycles_completed / loop_running / loop_recovery_mode
  - handler_executions_total{handler,status} / handler_execution_duration_seconds
  - handler_status_transitions_total{handler,from,to}
  - handoffs_total{from,to,status}
  - chat_messages_total{kind} / chat_deliveries_dropped_total
  - persistence_errors_total{operation}
  - http_requests_total / http_request_duration_seconds / http_response_size_bytes
*/
package metrics
