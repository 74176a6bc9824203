// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package config 提供 AgentLoop 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（AGENTLOOP_*）的顺序合并，
// config.Load 是常用入口；Loader 支持自定义前缀、环境变量来源与额外校验。
// YAML 严格解码，未知字段直接报错；Validate 用 errors.Join 汇总所有分段的问题。
// 调度相关参数集中在 LoopConfig，由入口程序映射到 orchestrator.Config。
package config
