// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 AgentLoop 测试的共享工具和辅助函数。

# 核心能力

  - WaitClosed: 等待 done 通道关闭，超时即 Fatal
  - MustParseJSON: 把响应体解码成泛型类型
  - MetricValue / CounterValue: 从 prometheus.Gatherer 读取样本，
    CounterValue 按标签子集匹配

# 子包

  - testutil/mocks: testify 实现的 MockStateStore 与 MockHandler
  - testutil/fixtures: 常用 handler 行为（成功、失败、移交、上报进度）
    与预置注册表
*/
package testutil
