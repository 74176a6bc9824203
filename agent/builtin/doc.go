// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 builtin 提供 agentloop 自带的确定性 handler。

# 概述

所有 handler 都不访问网络，只操作目标队列、聊天总线和状态存储：

  - planner：把当前目标拆成子目标入队，并把父目标报告为完成
  - researcher：在状态存储中追加研究笔记，并提示交接给 summarizer
  - summarizer：按来源统计最近的聊天消息
  - reviewer：检查最近一个已持久化 cycle 的结果

# 注册

Register 按 DefaultWeights 注册全部 handler，weights 可按名称覆盖权重。
*/
package builtin
