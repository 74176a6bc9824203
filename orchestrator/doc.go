// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package orchestrator 实现自主调度循环。

Scheduler 在单一时间线上反复执行 cycle：通过 selection.Policy 选择 handler，
以隔离故障的方式执行（panic 与超时都记为失败），必要时经 handoff.Coordinator
移交给第二个 handler，然后向 chat.Bus 发布一条进度消息，并把 CycleTrace、
计数器、目标与聊天记录写入 persistence.StateStore。

# 状态机

	Stopped ──Start──▶ Running ──Stop / MaxCycles──▶ Stopped

恢复模式（recovery）独立于运行状态：在 FailureWindow 内失败次数达到
FailureThreshold 时开启，下一次在恢复规则下成功的 cycle 关闭它。

# 并发

每次 Start 启动一个 run goroutine，它在定时器上等待，持有 cycleMu 执行
cycle，然后重置定时器。Step 与 Start 之后的快速重启同样经过 cycleMu 串行化。
Stop 从不阻塞，也不会中断正在执行的 cycle，因此可以在订阅者回调或 handler
内部调用。
*/
package orchestrator
