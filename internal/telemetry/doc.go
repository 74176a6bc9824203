// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package telemetry 安装 OTLP/gRPC 导出的 TracerProvider 与 MeterProvider，
// 并提供 StartCycle：每个调度 cycle 一个 "loop.cycle" span，结束时同时记录
// loop.cycles 计数与 loop.cycle.duration 直方图。
//
// 配置关闭时 Init 不修改全局 provider，span 与指标落到 OTel 默认的 noop 实现。
package telemetry
