// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 handoff 提供循环内的单跳交接协调器。

# 概述

当一个 handler 的执行结果携带 NextHandlerHint 时，Coordinator 判断是否在
同一个 cycle 内立即调用被提示的目标 handler。交接受冷却时间约束，并且只
允许单跳：目标 handler 自身返回的提示在本 cycle 内被忽略，从而避免两个
handler 互相触发形成交接风暴。

# 核心流程

  - 提示为空、冷却未结束、目标无法解析或指向自身：不交接（no-op）
  - 目标实现 agent.Acceptor 时先进行接受确认，拒绝即 no-op
  - 接受后构造派生 ExecutionContext（previous_output、source_handler），
    同步执行目标 handler，并记录 Handoff 结果
  - 每次实际派发只更新一次 lastHandoffAt，与目标执行成败无关

# 与其他包协同

Coordinator 由 orchestrator.Scheduler 在每个成功的 cycle 末尾调用，
目标状态通过 agent.Registry.SetStatus 更新。
*/
package handoff
