// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Command agentloop 运行自治调度循环及其 HTTP 控制面。

# 子命令

  - serve：启动 API 与指标服务，按配置自动启动或恢复循环
  - run：前台运行循环，--once 只执行一个周期并输出轨迹
  - migrate：SQL 状态存储的 Schema 迁移
  - version / health：版本信息与健康探测

配置按 默认值 → YAML（--config）→ AGENTLOOP_* 环境变量 的顺序加载。
*/
package main
